package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceSourceMonotonicUnderFrozenClock(t *testing.T) {
	src := NewNonceSource("key", NewMemoryNonceStore())
	frozen := time.UnixMicro(1_700_000_000_000_000)
	src.now = func() time.Time { return frozen }

	var prev uint64
	for i := 0; i < 100; i++ {
		n, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestNonceSourceResumesFromStore(t *testing.T) {
	store := NewMemoryNonceStore()
	future := uint64(time.Now().Add(time.Hour).UnixMicro())
	require.NoError(t, store.Save(context.Background(), fingerprint("key"), future))

	src := NewNonceSource("key", store)
	n, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, future+1, n)
}

func TestBadgerNonceStorePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonces")
	store, err := OpenBadgerNonceStore(dir)
	require.NoError(t, err)

	first := NewNonceSource("key", store)
	n1, err := first.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerNonceStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	last, err := reopened.Load(context.Background(), fingerprint("key"))
	require.NoError(t, err)
	assert.Equal(t, n1, last)

	second := NewNonceSource("key", reopened)
	second.now = func() time.Time { return time.UnixMicro(int64(n1) - 1000) }
	n2, err := second.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n1+1, n2)

	other, err := reopened.Load(context.Background(), fingerprint("other"))
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestSignDerivation(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	form := url.Values{}
	form.Set("nonce", "1616492376594")
	form.Set("ordertype", "limit")
	form.Set("pair", "XBTUSD")
	form.Set("price", "37500")
	form.Set("type", "buy")
	form.Set("volume", "1.25")

	postdata := "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	require.Equal(t, postdata, form.Encode())

	inner := sha256.Sum256([]byte("1616492376594" + postdata))
	mac := hmac.New(sha512.New, []byte("0123456789abcdef"))
	mac.Write([]byte("/0/private/AddOrder"))
	mac.Write(inner[:])
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sig, err := Sign("/0/private/AddOrder", form, secret)
	require.NoError(t, err)
	assert.Equal(t, want, sig)

	_, err = Sign("/0/private/AddOrder", form, "%%%")
	assert.Error(t, err)
}
