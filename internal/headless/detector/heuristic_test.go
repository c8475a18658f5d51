package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.True(t, h.ShouldPromote(200, []byte("")))
	require.True(t, h.ShouldPromote(200, []byte("  \n")))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.False(t, h.ShouldPromote(404, []byte(`<div id="root"></div>`)))
	require.False(t, h.ShouldPromote(500, nil))
}

func TestHeuristic_IsSPA_Markers(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"react root": `<div id="root"></div>`,
		"vue app":    `<div id="app"></div>`,
		"next":       `<div id="__next"></div>`,
		"reactroot":  `<div data-reactroot=""></div>`,
		"angular":    `<html ng-app="shop"><body></body></html>`,
		"vue scoped": `<div data-v-7ba5bd90 class="card"></div>`,
	}
	h := NewHeuristic(0)
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.True(t, h.IsSPA([]byte(body)))
		})
	}
}

func TestHeuristic_IsSPA_ScriptCount(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	four := strings.Repeat(`<script src="/a.js"></script>`, 4)
	five := strings.Repeat(`<script src="/a.js"></script>`, 5)
	inline := strings.Repeat(`<script>var a=1;</script>`, 10)

	require.False(t, h.IsSPA([]byte("<html><body>"+four+"</body></html>")))
	require.True(t, h.IsSPA([]byte("<html><body>"+five+"</body></html>")))
	require.False(t, h.IsSPA([]byte("<html><body>"+inline+"</body></html>")))
}

func TestHeuristic_IsSPA_PlainPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(3)
	body := `<html><head><title>Docs</title></head><body><div id="content"><a href="/x">x</a></div></body></html>`
	require.False(t, h.IsSPA([]byte(body)))
	require.False(t, h.ShouldPromote(200, []byte(body)))
}
