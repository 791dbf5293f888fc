package dashboards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

func TestTemplatesAreValid(t *testing.T) {
	assert.Equal(t, []string{TemplateDemo, TemplateEngine}, Templates())

	for _, name := range Templates() {
		t.Run(name, func(t *testing.T) {
			d, err := FromTemplate(name)
			require.NoError(t, err)

			ve := d.Validate()
			assert.False(t, ve.HasErrors(), "%v", ve)

			for i, p := range d.Panels {
				assert.NoError(t, p.GridPos.Validate(constants.GridColumns), "panel %d", p.ID)
				for _, o := range d.Panels[i+1:] {
					assert.False(t, p.GridPos.Overlaps(o.GridPos), "panels %d and %d overlap", p.ID, o.ID)
				}
			}

			data, err := models.MarshalDashboard(d, constants.FormatJSON)
			require.NoError(t, err)
			back, err := models.DecodeDashboard(data)
			require.NoError(t, err)
			assert.Equal(t, d.UID, back.UID)
			assert.Len(t, back.Panels, len(d.Panels))
		})
	}
}

func TestTemplatesAreFresh(t *testing.T) {
	a, _ := FromTemplate(TemplateEngine)
	b, _ := FromTemplate(TemplateEngine)
	a.Panels[0].Title = "changed"
	assert.NotEqual(t, a.Panels[0].Title, b.Panels[0].Title)

	_, err := FromTemplate("nope")
	assert.Error(t, err)
}
