package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregolima/zeca/pkg/models"
)

func TestBuildCronSpecSynthesized(t *testing.T) {
	s := &models.Schedule{ID: 1, Time: "08:30", DaysOfWeek: []int{1, 3, 5}}

	spec, err := buildCronSpec(s)
	require.NoError(t, err)
	assert.Equal(t, "30 8 * * 1,3,5", spec)
}

func TestBuildCronSpecEveryDay(t *testing.T) {
	s := &models.Schedule{ID: 1, Time: "23:05"}

	spec, err := buildCronSpec(s)
	require.NoError(t, err)
	assert.Equal(t, "5 23 * * *", spec)
}

func TestBuildCronSpecTimezonePrefix(t *testing.T) {
	s := &models.Schedule{ID: 1, Time: "08:00", Timezone: "America/Sao_Paulo"}

	spec, err := buildCronSpec(s)
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=America/Sao_Paulo 0 8 * * *", spec)
}

func TestBuildCronSpecOverride(t *testing.T) {
	s := &models.Schedule{ID: 1, UseCronOverride: true, Cron: "*/15 9-18 * * 1-5", Time: "08:00"}

	spec, err := buildCronSpec(s)
	require.NoError(t, err)
	assert.Equal(t, "*/15 9-18 * * 1-5", spec)
}

func TestBuildCronSpecInvalidOverride(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "61 * * * *"} {
		s := &models.Schedule{ID: 1, UseCronOverride: true, Cron: expr}
		_, err := buildCronSpec(s)
		assert.Error(t, err, "expression %q must be rejected", expr)
	}
}

func TestBuildCronSpecInvalidClock(t *testing.T) {
	for _, v := range []string{"", "8", "24:00", "12:60", "aa:bb", "12h30"} {
		s := &models.Schedule{ID: 1, Time: v}
		_, err := buildCronSpec(s)
		assert.Error(t, err, "time %q must be rejected", v)
	}
}

func TestBuildCronSpecInvalidDay(t *testing.T) {
	s := &models.Schedule{ID: 1, Time: "08:00", DaysOfWeek: []int{7}}

	_, err := buildCronSpec(s)
	assert.Error(t, err)
}
