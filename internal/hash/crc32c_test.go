package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Check value for the Castagnoli polynomial.
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))
	assert.Equal(t, "4waSgw==", CRC32CBase64([]byte("123456789")))
}

func TestUpdateCRC32C(t *testing.T) {
	data := []byte("partition block payload")
	crc := UpdateCRC32C(0, data[:9])
	crc = UpdateCRC32C(crc, data[9:])
	assert.Equal(t, CRC32C(data), crc)
}
