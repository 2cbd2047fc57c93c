package seal

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := FromKeyFile(filepath.Join(t.TempDir(), "keys", "backup.key"))
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("aadhaar 1234 5678 9012")
	sealed, err := s.Seal(msg, []byte("hr/ids.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !Sealed(sealed) {
		t.Fatal("sealed blob missing prefix")
	}
	got, err := s.Open(sealed, []byte("hr/ids.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(msg) {
		t.Fatalf("round trip mismatch: %q", got)
	}

	again, _ := s.Seal(msg, []byte("hr/ids.txt"))
	if string(again) == string(sealed) {
		t.Error("two seals of the same input should differ (random nonce)")
	}
}

func TestOpenRejectsTamperingAndWrongPath(t *testing.T) {
	s, err := New(make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := s.Seal([]byte("secret"), []byte("a.txt"))

	var ce *CryptoError
	if _, err := s.Open(sealed, []byte("b.txt")); !errors.As(err, &ce) {
		t.Errorf("wrong associated data: expected CryptoError, got %v", err)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := s.Open(sealed, []byte("a.txt")); !errors.As(err, &ce) {
		t.Errorf("tampered blob: expected CryptoError, got %v", err)
	}

	if _, err := s.Open([]byte("plain"), nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("short input: expected ErrMalformed, got %v", err)
	}
}

func TestKeyCreatedOnceWithPrivateMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k")
	k1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}
	k2, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != string(k2) {
		t.Error("key changed between loads")
	}
}

func TestConcurrentKeyCreationAgrees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k")
	keys := make([][]byte, 8)
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := LoadOrCreateKey(path)
			if err != nil {
				t.Error(err)
				return
			}
			keys[i] = k
		}(i)
	}
	wg.Wait()

	final, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i, k := range keys {
		if k != nil && string(k) != string(final) {
			t.Errorf("goroutine %d got a key that was not persisted", i)
		}
	}
}

func TestBadKeys(t *testing.T) {
	var ce *CryptoError
	if _, err := New([]byte("short")); !errors.As(err, &ce) {
		t.Errorf("expected CryptoError for short key, got %v", err)
	}
	path := filepath.Join(t.TempDir(), "k")
	os.WriteFile(path, []byte("truncated"), 0o600)
	if _, err := LoadOrCreateKey(path); !errors.As(err, &ce) {
		t.Errorf("expected CryptoError for truncated key file, got %v", err)
	}
}
