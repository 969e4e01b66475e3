package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-notifier/internal/models"
)

func TestDefaultResolvesAllKeys(t *testing.T) {
	r := Default(nil)
	require.NoError(t, r.Validate())
	for _, k := range Keys() {
		ref, ok := r.Resolve(k.Role, k.Transition)
		assert.True(t, ok, k.String())
		assert.NotEmpty(t, ref.ID)
		assert.NotEmpty(t, ref.Subject)
	}
}

func TestDefaultOverrides(t *testing.T) {
	r := Default(map[Key]string{
		{Role: models.RoleDriver, Transition: models.TransitionCancel}: "d-123",
		{Role: models.RoleClient, Transition: models.TransitionCancel}: "",
	})
	ref, ok := r.Resolve(models.RoleDriver, models.TransitionCancel)
	require.True(t, ok)
	assert.Equal(t, "d-123", ref.ID)
	assert.Equal(t, "Course annulée", ref.Subject)

	ref, ok = r.Resolve(models.RoleClient, models.TransitionCancel)
	require.True(t, ok)
	assert.Equal(t, "d-template-client-cancel", ref.ID)
}

func TestResolveUnknown(t *testing.T) {
	r := Default(nil)
	_, ok := r.Resolve(models.Role("admin"), models.TransitionConfirm)
	assert.False(t, ok)
	_, ok = r.Resolve(models.RoleClient, models.TransitionType("refund"))
	assert.False(t, ok)
}

func TestValidateReportsMissing(t *testing.T) {
	r := New(map[Key]TemplateRef{
		{Role: models.RoleClient, Transition: models.TransitionConfirm}: {ID: "a"},
		{Role: models.RoleClient, Transition: models.TransitionCancel}:  {ID: ""},
	})
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_cancel")
	assert.Contains(t, err.Error(), "driver_confirm")
	assert.Contains(t, err.Error(), "driver_cancel")
	assert.NotContains(t, err.Error(), "client_confirm")
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "driver_confirm", Key{Role: models.RoleDriver, Transition: models.TransitionConfirm}.String())
}
