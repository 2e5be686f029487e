package sim

import (
	"fmt"
	"math/rand"
)

var animals = []string{
	"Panda", "Koala", "Zebra", "Giraffe", "Penguin", "Kangaroo", "Dolphin", "Lion",
	"Tiger", "Elephant", "Rhino", "Hippo", "Cheetah", "Gorilla", "Sloth", "Otter",
	"Fox", "Wolf", "Bear", "Raccoon", "Hedgehog", "Platypus", "Llama", "Alpaca",
}

var adjectives = []string{
	"Happy", "Clever", "Swift", "Brave", "Wise", "Gentle", "Mighty", "Noble",
	"Calm", "Bright", "Agile", "Bold", "Merry", "Keen", "Proud", "Kind",
}

// GenerateUsername produces an adjective+animal+number handle like
// "SwiftOtter4821". Uniqueness is enforced by the agents table, not here;
// callers retry on conflict.
func GenerateUsername(rnd *rand.Rand) string {
	adjective := adjectives[rnd.Intn(len(adjectives))]
	animal := animals[rnd.Intn(len(animals))]
	return fmt.Sprintf("%s%s%d", adjective, animal, rnd.Intn(10000))
}
