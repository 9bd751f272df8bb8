package imagesync

import (
	"path/filepath"
	"testing"
)

func TestEncodeCacheNameIsStableAndDistinct(t *testing.T) {
	a := encodeCacheName("https://github.com/arctir/nucleus-images")
	b := encodeCacheName("https://github.com/arctir/nucleus-images")
	if a != b {
		t.Fatalf("expected encoding to be deterministic for the same URL")
	}
	if a == encodeCacheName("https://github.com/arctir/other-images") {
		t.Fatalf("expected distinct URLs to encode to distinct cache names")
	}
}

func TestCacheLocationIsUnderNucleusNamespace(t *testing.T) {
	loc := cacheLocation()
	if got := loc[len(loc)-len(CacheRepoDirName):]; got != CacheRepoDirName {
		t.Fatalf("expected cache location to end in %q, got %q", CacheRepoDirName, loc)
	}
	if got := filepath.Base(filepath.Dir(loc)); got != CacheDirName {
		t.Fatalf("expected cache location under a %q directory, got %q", CacheDirName, loc)
	}
}

func TestNewWithoutTokenBuildsUnauthenticatedClient(t *testing.T) {
	s := New(Config{})
	if s.client == nil {
		t.Fatalf("expected a github client even without a token")
	}
}

func TestNewWithTokenBuildsAuthenticatedClient(t *testing.T) {
	s := New(Config{GitHubToken: "test-token"})
	if s.client == nil {
		t.Fatalf("expected a github client when a token is set")
	}
}
