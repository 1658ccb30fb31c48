package imagegen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

func encoded(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

type fakeOpenAI struct {
	data    []byte
	err     error
	prompt  string
	size    string
	quality string
}

func (f *fakeOpenAI) GenerateImage(_ context.Context, prompt, size, quality string) ([]byte, error) {
	f.prompt, f.size, f.quality = prompt, size, quality
	return f.data, f.err
}

type fakeGemini struct {
	data   []byte
	aspect string
}

func (f *fakeGemini) GenerateImage(_ context.Context, _ string, aspectRatio string) ([]byte, error) {
	f.aspect = aspectRatio
	return f.data, nil
}

func request(t *testing.T, p script.Platform) pipeline.ImageRequest {
	return pipeline.ImageRequest{
		Script: &script.Script{
			Title: "Deep Water",
			Niche: script.NicheScaryStories,
			VisualStyle: &script.VisualStyle{
				Environment:       "a drowned village",
				RecurringElements: map[string]string{"lantern": "a rusted red lantern"},
			},
		},
		Scene:      script.Scene{SceneNumber: 3, ImagePrompt: "a church steeple above the water."},
		Platform:   p,
		OutputPath: filepath.Join(t.TempDir(), "images", "scene_03_"+string(p)+".png"),
	}
}

func TestGenerateImage_OpenAI(t *testing.T) {
	client := &fakeOpenAI{data: encoded(t, "png")}
	gen, err := NewGenerator(NewOpenAIProvider(client, ""))
	require.NoError(t, err)

	req := request(t, script.PlatformTikTok)
	path, err := gen.GenerateImage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.OutputPath, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, client.data, data)

	assert.Equal(t, "1024x1536", client.size)
	assert.Equal(t, "high", client.quality)
	assert.Contains(t, client.prompt, "a church steeple above the water.")
	assert.Contains(t, client.prompt, "Setting: a drowned village")
	assert.Contains(t, client.prompt, "lantern: a rusted red lantern")
	assert.Contains(t, client.prompt, "Vertical 9:16")
}

func TestGenerateImage_GeminiConvertsToPNG(t *testing.T) {
	client := &fakeGemini{data: encoded(t, "jpeg")}
	gen, err := NewGenerator(NewGeminiProvider(client))
	require.NoError(t, err)

	path, err := gen.GenerateImage(context.Background(), request(t, script.PlatformYouTube))
	require.NoError(t, err)
	assert.Equal(t, "16:9", client.aspect)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestGenerateImage_RejectsGarbage(t *testing.T) {
	gen, err := NewGenerator(NewOpenAIProvider(&fakeOpenAI{data: []byte("not an image")}, "medium"))
	require.NoError(t, err)

	req := request(t, script.PlatformYouTube)
	_, err = gen.GenerateImage(context.Background(), req)
	require.Error(t, err)
	assert.NoFileExists(t, req.OutputPath)
}

func TestGenerateImage_ProviderError(t *testing.T) {
	gen, err := NewGenerator(NewOpenAIProvider(&fakeOpenAI{err: errors.New("content policy")}, ""))
	require.NoError(t, err)

	_, err = gen.GenerateImage(context.Background(), request(t, script.PlatformYouTube))
	assert.ErrorContains(t, err, "content policy")
	assert.ErrorContains(t, err, "scene 3")
}

func TestNewGenerator_RequiresProvider(t *testing.T) {
	_, err := NewGenerator(nil)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	s := &script.Script{Niche: script.NicheHistory}
	scene := script.Scene{ImagePrompt: "  roman forum at dawn  "}

	yt := BuildPrompt(s, scene, script.PlatformYouTube)
	assert.Contains(t, yt, "roman forum at dawn.")
	assert.Contains(t, yt, defaultLook.Prefix)
	assert.Contains(t, yt, "Widescreen 16:9")
	assert.NotContains(t, yt, "Setting:")

	s.Niche = script.NicheLuxury
	assert.Contains(t, BuildPrompt(s, scene, script.PlatformTikTok), "magazine-quality editorial")
}
