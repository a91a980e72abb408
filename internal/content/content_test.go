package content

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureRenderRoundTrip(t *testing.T) {
	lists := []List{
		{},
		{Text("one")},
		{Text("a"), Image("https://example.com/u1.png"), Text("b")},
		{Image("https://example.com/x.png"), Image("/static/y.png")},
		{Text("fish & chips <tonight>"), Text(`quote "here"`)},
		{Image("blob:http://localhost/abc")},
		{Image("/img/a b.png")},
		{Image("file:///tmp/x.png")},
		{Text("a"), Image("data:image/png;base64,iVBORw0KGgo="), Image("u1?x=1&y=2")},
	}
	for _, list := range lists {
		got := Capture(Render(list))
		assert.True(t, list.Equal(got), "round trip of %v produced %v", list, got)
	}
}

func TestCaptureClassifiesDirectChildren(t *testing.T) {
	surface := "intro text" +
		"<div><img src=\"https://example.com/1.png\">caption <b>bold</b> <img src=\"https://example.com/2.png\"></div>" +
		"   \n  " +
		"<p>   </p>" +
		"<h2>  spanned  </h2>" +
		"<img src=\"https://example.com/3.png\">" +
		"<script>alert(1)</script>"

	got := Capture(surface)

	want := List{
		Text("intro text"),
		Image("https://example.com/1.png"),
		Image("https://example.com/2.png"),
		Text("caption bold"),
		Text("spanned"),
		Image("https://example.com/3.png"),
	}
	assert.Equal(t, want, got)
}

func TestCaptureKeepsDataURIImages(t *testing.T) {
	uri := "data:image/png;base64,iVBORw0KGgo="
	got := Capture(`<img src="` + uri + `">`)
	require.Len(t, got, 1)
	assert.Equal(t, Image(uri), got[0])
}

func TestCaptureEmptySurface(t *testing.T) {
	got := Capture("")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRenderOneElementPerItem(t *testing.T) {
	html := Render(List{Text("a"), Image("https://example.com/u1.png"), Text("b")})
	assert.Equal(t, `<p>a</p><img src="https://example.com/u1.png"/><p>b</p>`, html)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := List{Text("a"), Image("u1"), Text("b")}
	variants := map[string]List{
		"order":   {Text("b"), Image("u1"), Text("a")},
		"content": {Text("a"), Image("u1"), Text("c")},
		"kind":    {Text("a"), Text("u1"), Text("b")},
		"count":   {Text("a"), Image("u1")},
		"extra":   {Text("a"), Image("u1"), Text("b"), Text("")},
	}
	for name, variant := range variants {
		assert.NotEqual(t, base.Fingerprint(), variant.Fingerprint(), name)
	}
	assert.Equal(t, base.Fingerprint(), base.Clone().Fingerprint())
}

func TestFingerprintNilAndEmptyAgree(t *testing.T) {
	var nilList List
	assert.Equal(t, List{}.Fingerprint(), nilList.Fingerprint())
}

func TestCloneDoesNotAlias(t *testing.T) {
	original := List{Text("a"), Text("b")}
	cloned := original.Clone()
	cloned[0] = Text("changed")
	assert.Equal(t, Text("a"), original[0])
}

func TestWithoutAndIndexOf(t *testing.T) {
	list := List{Text("a"), Image("u1"), Text("a"), Text("b")}

	assert.Equal(t, 0, list.IndexOf(Text("a")))
	assert.Equal(t, -1, list.IndexOf(Text("missing")))
	assert.Equal(t, -1, list.IndexOf(Image("a")))

	trimmed := list.Without(0)
	assert.Equal(t, List{Image("u1"), Text("a"), Text("b")}, trimmed)
	assert.Len(t, list, 4)

	assert.Equal(t, list, list.Without(9))
}

func TestTextSnapshotSkipsImages(t *testing.T) {
	list := List{Text("one"), Image("u1"), Text("two")}
	snapshot := list.TextSnapshot()

	require.Equal(t, 2, snapshot.Len())
	assert.Equal(t, Entry{Position: 0, Item: Text("one")}, snapshot.At(0))
	assert.Equal(t, Entry{Position: 2, Item: Text("two")}, snapshot.At(1))

	list[0] = Text("mutated")
	assert.Equal(t, Text("one"), snapshot.At(0).Item)
}

func TestValidateList(t *testing.T) {
	require.NoError(t, ValidateList(List{Text(""), Text("a"), Image("u1")}))

	err := ValidateList(List{Text("a"), {Kind: "video", Value: "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidItem))

	err = Validate(Item{Kind: KindImage})
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestEnvelopeWireShape(t *testing.T) {
	encoded, err := json.Marshal(Envelope{Content: List{Text("hi"), Image("u1")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","content":"hi"},{"type":"image","content":"u1"}]}`, string(encoded))
}
