package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, scheduler.Config{}.Validate())
	assert.NoError(t, scheduler.Config{GuardInterval: ms(10), DebounceInterval: ms(300)}.Validate())

	err := scheduler.Config{RenderInterval: -time.Millisecond}.Validate()
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "render interval")
}

func TestConfig_Delay(t *testing.T) {
	tests := []struct {
		name        string
		cfg         scheduler.Config
		sinceReq    time.Duration
		sinceRender time.Duration
		want        time.Duration
	}{
		{"no policy", scheduler.Config{}, ms(500), ms(500), 0},
		{"guard opens new burst", scheduler.Config{GuardInterval: ms(200)}, ms(201), ms(5000), ms(200)},
		{"guard skipped inside burst", scheduler.Config{GuardInterval: ms(200)}, ms(200), ms(5000), 0},
		{"debounce always applies", scheduler.Config{DebounceInterval: ms(100)}, ms(1), ms(5000), ms(100)},
		{"interval floor", scheduler.Config{RenderInterval: ms(1000)}, ms(50), ms(200), ms(800)},
		{"largest component wins", scheduler.Config{GuardInterval: ms(50), DebounceInterval: ms(100), RenderInterval: ms(1000)}, ms(5000), ms(700), ms(300)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Delay(tt.sinceReq, tt.sinceRender))
		})
	}
}
