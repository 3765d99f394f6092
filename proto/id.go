package proto

import gonanoid "github.com/matoous/go-nanoid/v2"

// ID returns a fresh correlation id.
func ID() string {
	i, _ := gonanoid.New()
	return i
}
