package patientkey

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := Generate()
		require.NoError(t, err)
		assert.True(t, Valid(key), "generated key %q", key)
		assert.NotEqual(t, byte('0'), key[0])
		seen[key] = true
	}
	// 200 draws from 9e8 keys should not collide
	assert.Len(t, seen, 200)
}

func TestFormatAndUnformat(t *testing.T) {
	assert.Equal(t, "630-651-557", Format("630651557"))
	assert.Equal(t, "1234", Format("1234"))

	assert.Equal(t, "630651557", Unformat(" 630-651-557 "))
	assert.Equal(t, "630651557", Unformat("630 651 557"))
	assert.Equal(t, "630651557", Unformat(Format("630651557")))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("000000000"))
	assert.False(t, Valid("63065155"))
	assert.False(t, Valid("6306515571"))
	assert.False(t, Valid("630-651-5"))
	assert.False(t, Valid("63065155a"))
	assert.False(t, Valid(""))
}

func TestValidateField(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("patientkey", ValidateField))

	type req struct {
		Key string `validate:"required,patientkey"`
	}

	assert.NoError(t, v.Struct(req{Key: "630-651-557"}))
	assert.Error(t, v.Struct(req{Key: "630-651"}))
}
