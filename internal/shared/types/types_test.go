package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSurface(t *testing.T) {
	tests := []struct {
		in   string
		want Surface
	}{
		{"HOMESCREEN", SurfaceHomescreen},
		{"home", SurfaceHomescreen},
		{"lockscreen", SurfaceLockscreen},
		{" Media_Data_Manager ", SurfaceMediaDataManager},
		{"hub", SurfaceGlanceableHub},
		{"car", SurfaceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSurface(tt.in))
		})
	}
}

func TestSurfaceKind(t *testing.T) {
	assert.Equal(t, SessionKindNormal, SurfaceHomescreen.Kind())
	assert.Equal(t, SessionKindNormal, SurfaceLockscreen.Kind())
	assert.Equal(t, SessionKindNormal, SurfaceUnknown.Kind())
	assert.Equal(t, SessionKindMedia, SurfaceMediaDataManager.Kind())
	assert.Equal(t, SessionKindHub, SurfaceGlanceableHub.Kind())
}

func TestFeatureTypeValues(t *testing.T) {
	assert.Equal(t, FeatureType(0), FeatureUndefined)
	assert.Equal(t, FeatureType(1), FeatureWeather)
	assert.Equal(t, FeatureType(28), FeatureFlashlight)
	assert.Equal(t, FeatureType(30), FeatureDoorbell)
	assert.Equal(t, FeatureType(41), FeatureEarthquakeOccurred)
}

func TestTargetCloneIsDeep(t *testing.T) {
	original := Target{
		ID:     "a1",
		Header: &Action{ID: "h", Title: "Title", Extras: map[string]any{"k": "v"}},
		Template: &Template{
			SubtitleItem: &SubItem{Text: "sub", Icon: &Icon{URI: "content://icon"}},
		},
		LimitToSurfaces: []Surface{SurfaceHomescreen},
	}

	clone := original.Clone()
	clone.Header.Title = "Changed"
	clone.Header.Extras["k"] = "changed"
	clone.Template.SubtitleItem.Icon.URI = "content://other"
	clone.LimitToSurfaces[0] = SurfaceLockscreen

	assert.Equal(t, "Title", original.Header.Title)
	assert.Equal(t, "v", original.Header.Extras["k"])
	assert.Equal(t, "content://icon", original.Template.SubtitleItem.Icon.URI)
	assert.Equal(t, SurfaceHomescreen, original.LimitToSurfaces[0])
}

func TestHasNoActions(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   bool
	}{
		{"bare", Target{ID: "t"}, true},
		{"header title only", Target{Header: &Action{Title: "x"}}, true},
		{"header subtitle", Target{Header: &Action{Subtitle: "x"}}, false},
		{"base subtitle", Target{Base: &Action{Subtitle: "x"}}, false},
		{"empty template", Target{Template: &Template{SubtitleItem: &SubItem{}}}, true},
		{"subtitle item", Target{Template: &Template{SubtitleItem: &SubItem{Text: "x"}}}, false},
		{"supplemental item", Target{Template: &Template{SubtitleSupplementalItem: &SubItem{Text: "x"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.target.HasNoActions())
		})
	}
}

func TestAllowedOn(t *testing.T) {
	assert.True(t, AllowedOn(nil, SurfaceLockscreen))
	assert.True(t, AllowedOn([]Surface{SurfaceLockscreen}, SurfaceLockscreen))
	assert.False(t, AllowedOn([]Surface{SurfaceHomescreen}, SurfaceLockscreen))
}

func TestParseHideSensitive(t *testing.T) {
	assert.Equal(t, HideSensitiveContents, ParseHideSensitive("HIDE_CONTENTS"))
	assert.Equal(t, HideSensitiveTarget, ParseHideSensitive("hide_target"))
	assert.Equal(t, HideSensitiveDisabled, ParseHideSensitive(""))
	assert.Equal(t, HideSensitiveDisabled, ParseHideSensitive("bogus"))
}
