package csvagent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderChart(t *testing.T) {
	groups := []Group{{Key: "North", Value: 1500}, {Key: "South & West", Value: 800}, {Key: "East", Value: -50}}

	t.Run("should draw one bar per group", func(t *testing.T) {
		svg, err := RenderChart("Revenue <by region>", ChartBar, groups)
		require.NoError(t, err)

		out := string(svg)
		assert.True(t, strings.HasPrefix(out, "<svg "))
		assert.Contains(t, out, "Revenue &lt;by region&gt;")
		assert.Contains(t, out, "South &amp; West")
		// background plus one rect per bar
		assert.Equal(t, len(groups)+1, strings.Count(out, "<rect "))
		assert.NotContains(t, out, "<polyline")
	})

	t.Run("should draw a polyline for line charts", func(t *testing.T) {
		svg, err := RenderChart("Trend", ChartLine, groups)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(svg), "<polyline"))
		assert.Equal(t, 1, strings.Count(string(svg), "<rect "))
	})

	t.Run("should handle a flat series", func(t *testing.T) {
		_, err := RenderChart("Flat", ChartBar, []Group{{Key: "a", Value: 0}, {Key: "b", Value: 0}})
		assert.NoError(t, err)
	})

	t.Run("should reject bad input", func(t *testing.T) {
		_, err := RenderChart("x", "pie", groups)
		assert.Error(t, err)
		_, err = RenderChart("x", ChartBar, nil)
		assert.Error(t, err)
	})
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short"))
	assert.Equal(t, "Northern Terr…", shorten("Northern Territory"))
}
