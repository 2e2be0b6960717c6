package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryReplacesInPlace(t *testing.T) {
	settlement := &testJob{name: "settlement"}
	retention := &testJob{name: "outbox-retention"}
	replacement := &testJob{name: "settlement"}

	r := NewRegistry(settlement, nil, retention)
	r.Register(replacement)

	assert.Equal(t, []Job{replacement, retention}, r.Jobs())
	assert.Equal(t, []string{"settlement", "outbox-retention"}, r.Names())
	assert.Same(t, replacement, r.Find("settlement"))
	assert.Nil(t, r.Find("notification-cleanup"))
}

func TestRegistryJobsIsACopy(t *testing.T) {
	r := NewRegistry(&testJob{name: "settlement"})

	jobs := r.Jobs()
	jobs[0] = nil
	names := r.Names()
	names[0] = "mutated"

	assert.NotNil(t, r.Jobs()[0])
	assert.Equal(t, "settlement", r.Names()[0])
}

func TestEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Jobs())
	assert.Nil(t, r.Find("settlement"))
}
