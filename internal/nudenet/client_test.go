package nudenet

import (
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/nudenet-proxy-go/internal/signer"
)

const sidecarKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestClient_Detect(t *testing.T) {
	var gotThreshold string
	var gotBounds image.Rectangle
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/detect", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotThreshold = r.FormValue("threshold")

		f, _, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		img, err := png.Decode(f)
		require.NoError(t, err)
		gotBounds = img.Bounds()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"detections":[
			{"class":"FEMALE_BREAST_EXPOSED","score":0.81,"box":[1,2,3,4]},
			{"class":"BELLY_COVERED","score":0.1,"box":[0,0,1,1]},
			{"class":"SOMETHING_NEW","score":0.99,"box":[0,0,1,1]},
			{"label":"male-face","score":0.5,"box":[5,5,2,2]}
		]}`)
	}))
	defer srv.Close()

	c, err := NewClient([]string{srv.URL + "/"}, nil, time.Second)
	require.NoError(t, err)

	dets, err := c.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 7, 5)), 0.2)
	require.NoError(t, err)

	assert.Equal(t, "0.2", gotThreshold)
	assert.Equal(t, image.Rect(0, 0, 7, 5), gotBounds)
	require.Len(t, dets, 2)
	assert.Equal(t, Detection{Label: FemaleBreastBare, Score: 0.81, Box: Box{X: 1, Y: 2, W: 3, H: 4}}, dets[0])
	assert.Equal(t, MaleFace, dets[1].Label)
}

func TestClient_DetectStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient([]string{srv.URL}, nil, time.Second)
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_SignsRequests(t *testing.T) {
	s, err := signer.New(sidecarKey)
	require.NoError(t, err)

	var verified atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
		assert.Equal(t, s.Address(), r.Header.Get("X-Requester-Address"))
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("Authorization"))
		if assert.NoError(t, err) && assert.Len(t, sig, 64) {
			verified.Store(crypto.VerifySignature(s.PublicKey(), signer.Digest(body, r.URL.Path, ts), sig))
		}
		_, _ = io.WriteString(w, `{"detections":[]}`)
	}))
	defer srv.Close()

	c, err := NewClient([]string{srv.URL}, s, time.Second)
	require.NoError(t, err)

	dets, err := c.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)), 0.5)
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.True(t, verified.Load())
}

func TestClient_RoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	handler := func(n *atomic.Int32) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			n.Add(1)
			_, _ = io.WriteString(w, `{"detections":[]}`)
		}
	}
	a := httptest.NewServer(handler(&hitsA))
	defer a.Close()
	b := httptest.NewServer(handler(&hitsB))
	defer b.Close()

	c, err := NewClient([]string{a.URL, " ", b.URL}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Replicas())

	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	for i := 0; i < 4; i++ {
		_, err := c.Detect(context.Background(), img, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hitsA.Load())
	assert.Equal(t, int32(2), hitsB.Load())
}

func TestClient_Health(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	c, err := NewClient([]string{healthy.URL}, nil, time.Second)
	require.NoError(t, err)
	assert.NoError(t, c.Health(context.Background()))

	c, err = NewClient([]string{healthy.URL, sick.URL}, nil, time.Second)
	require.NoError(t, err)
	assert.Error(t, c.Health(context.Background()))
}

func TestNewClient_NoURLs(t *testing.T) {
	_, err := NewClient([]string{"", "  "}, nil, 0)
	assert.Error(t, err)
}
