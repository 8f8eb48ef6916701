package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAddressFullForm(t *testing.T) {
	t.Parallel()

	addr := ParseAddress("123 Main St, Dallas, TX 75201")
	assert.Equal(t, "123 Main St", addr.Street)
	assert.Equal(t, "Dallas", addr.City)
	assert.Equal(t, "TX", addr.State)
	assert.Equal(t, "75201", addr.Zip)
}

func TestParseAddressNoCommasFallsBackToStreet(t *testing.T) {
	t.Parallel()

	addr := ParseAddress("123 Main St")
	assert.Equal(t, "123 Main St", addr.Street)
	assert.Empty(t, addr.City)
	assert.Empty(t, addr.State)
	assert.Empty(t, addr.Zip)
}

func TestParseAddressLowercaseState(t *testing.T) {
	t.Parallel()

	addr := ParseAddress("400 Elm Ave, Provo, ut 84601")
	assert.Equal(t, "UT", addr.State)
	assert.Equal(t, "84601", addr.Zip)
}

func TestParseAddressExtraSegments(t *testing.T) {
	t.Parallel()

	addr := ParseAddress("55 Tow Yard Rd, Mesa, AZ 85201, USA")
	assert.Equal(t, "55 Tow Yard Rd", addr.Street)
	assert.Equal(t, "Mesa", addr.City)
	assert.Equal(t, "AZ", addr.State)
	assert.Equal(t, "85201", addr.Zip)
}

func TestParseAddressEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Address{}, ParseAddress("   "))
}
