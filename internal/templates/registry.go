package templates

import (
	"errors"
	"fmt"

	"github.com/example/reservation-notifier/internal/models"
)

// Key selects a template by who receives the email and what happened.
type Key struct {
	Role       models.Role
	Transition models.TransitionType
}

func (k Key) String() string { return string(k.Role) + "_" + string(k.Transition) }

// Keys lists every combination the service can send.
func Keys() []Key {
	return []Key{
		{Role: models.RoleClient, Transition: models.TransitionConfirm},
		{Role: models.RoleClient, Transition: models.TransitionCancel},
		{Role: models.RoleDriver, Transition: models.TransitionConfirm},
		{Role: models.RoleDriver, Transition: models.TransitionCancel},
	}
}

// TemplateRef points at a layout managed by the email provider.
type TemplateRef struct {
	ID      string
	Subject string
}

type Registry struct {
	refs map[Key]TemplateRef
}

func New(refs map[Key]TemplateRef) *Registry {
	r := &Registry{refs: make(map[Key]TemplateRef, len(refs))}
	for k, v := range refs {
		r.refs[k] = v
	}
	return r
}

// Default returns the production templates. IDs set in overrides replace
// the defaults; empty override values are ignored.
func Default(overrides map[Key]string) *Registry {
	refs := map[Key]TemplateRef{
		{Role: models.RoleClient, Transition: models.TransitionConfirm}: {ID: "d-template-client-confirm", Subject: "Course confirmée par votre chauffeur"},
		{Role: models.RoleClient, Transition: models.TransitionCancel}:  {ID: "d-template-client-cancel", Subject: "Annulation de votre course"},
		{Role: models.RoleDriver, Transition: models.TransitionConfirm}: {ID: "d-template-driver-confirm", Subject: "Nouvelle course confirmée"},
		{Role: models.RoleDriver, Transition: models.TransitionCancel}:  {ID: "d-template-driver-cancel", Subject: "Course annulée"},
	}
	for k, id := range overrides {
		if id == "" {
			continue
		}
		ref := refs[k]
		ref.ID = id
		refs[k] = ref
	}
	return &Registry{refs: refs}
}

func (r *Registry) Resolve(role models.Role, transition models.TransitionType) (TemplateRef, bool) {
	ref, ok := r.refs[Key{Role: role, Transition: transition}]
	if !ok || ref.ID == "" {
		return TemplateRef{}, false
	}
	return ref, true
}

// Validate reports every known key without a usable template.
func (r *Registry) Validate() error {
	var errs []error
	for _, k := range Keys() {
		if _, ok := r.Resolve(k.Role, k.Transition); !ok {
			errs = append(errs, fmt.Errorf("missing template for %s", k))
		}
	}
	return errors.Join(errs...)
}
