package natsjs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamConfigDefaults(t *testing.T) {
	cfg := StreamConfig{}.withDefaults()
	assert.Equal(t, "MAILSYNC_EVENTS", cfg.Name)
	assert.Equal(t, []string{"mailsync.>"}, cfg.Subjects)
	assert.Equal(t, 30*24*time.Hour, cfg.MaxAge)
	assert.Equal(t, 10*time.Minute, cfg.Duplicates)

	cfg = StreamConfig{Name: "X", Subjects: []string{"x.>"}, MaxAge: time.Hour}.withDefaults()
	assert.Equal(t, "X", cfg.Name)
	assert.Equal(t, []string{"x.>"}, cfg.Subjects)
	assert.Equal(t, time.Hour, cfg.MaxAge)
}
