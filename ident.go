package bulkq

import "github.com/google/uuid"

// IDGenerator produces insert identifiers. The default implementation returns
// random 128-bit identifiers in canonical UUID form; tests swap in a
// deterministic generator via Config.IDs.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

// NewUUIDGenerator returns the default insert id generator.
func NewUUIDGenerator() IDGenerator {
	return uuidGenerator{}
}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}
