package utils

import (
	"strings"

	"github.com/google/uuid"
)

var findingNamespace = uuid.MustParse("6f1b7c52-3d0e-4b8a-9f61-5a2c4e7d9b10")

// NewID returns prefix-XXXXXXXXXXXX with 12 upper-case hex characters.
func NewID(prefix string) string {
	return prefix + "-" + shortHex(uuid.New())
}

// StableID derives a deterministic id from key, so identical inputs yield identical ids.
func StableID(prefix, key string) string {
	return prefix + "-" + shortHex(uuid.NewSHA1(findingNamespace, []byte(key)))
}

func shortHex(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
