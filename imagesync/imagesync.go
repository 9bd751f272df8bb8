// Package imagesync fetches the prebuilt ELF test-program images the
// simulated machine loads via ksyscall.Exec. It never parses or executes an
// image itself (spec.md §6 puts ELF loading out of scope) — it only
// resolves a pinned examples repository to a local cache directory and
// lists the release assets available from it, the same two jobs
// source.ResolveRepo and platforms/github.GHManager did for arctir-proctor,
// retargeted from "inspect a project's git history" to "fetch test
// fixtures".
package imagesync

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-git/go-git/v5"
	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"
)

// CacheDirName and CacheRepoDirName name the subtree under $XDG_DATA_HOME
// that cloned image repositories are cached into, mirroring
// source.CacheDirName/CacheRepoDirName's naming convention but scoped to
// nucleus's own cache.
const (
	CacheDirName     = "nucleus"
	CacheRepoDirName = "images"
)

// Image is one fetched test-program artifact: a release asset's metadata,
// not its downloaded bytes (the caller decides when to actually fetch the
// URL, since images can be large).
type Image struct {
	Name        string
	URL         string
	ContentType string
	Release     string
}

// Syncer resolves a pinned image-fixture repository to the local cache and
// lists its release assets; it does not download asset bytes.
type Syncer struct {
	client *github.Client
}

// Config supplies the optional GitHub access token used when the image
// repository's releases are private, mirroring GHManagerConfig's shape.
type Config struct {
	GitHubToken string
}

// New returns a Syncer, authenticating against GitHub if conf.GitHubToken
// is set.
func New(conf Config) *Syncer {
	var httpClient *http.Client
	if conf.GitHubToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conf.GitHubToken})
		httpClient = oauth2.NewClient(context.Background(), src)
	}
	return &Syncer{client: github.NewClient(httpClient)}
}

// ResolveRepo clones repoURL into the local cache if it isn't already
// present, or fetches any new commits if it is, and returns the path on
// disk it was cached to. Grounded on source.ResolveRepo's
// clone-or-fetch-into-XDG-cache logic, narrowed to the bare-clone case
// (image repos are only ever read from, never committed to locally).
func (s *Syncer) ResolveRepo(repoURL string) (string, error) {
	fp := filepath.Join(cacheLocation(), encodeCacheName(repoURL))
	if _, err := os.Stat(fp); err == nil {
		repo, err := git.PlainOpen(fp)
		if err != nil {
			return "", fmt.Errorf("failed opening cached image repo: %s", err)
		}
		if err := repo.Fetch(&git.FetchOptions{RemoteURL: repoURL}); err != nil && err != git.NoErrAlreadyUpToDate {
			return "", fmt.Errorf("failed fetching updates for cached image repo: %s", err)
		}
		return fp, nil
	}

	if err := ensureCacheDir(); err != nil {
		return "", fmt.Errorf("failed ensuring image cache dir exists: %s", err)
	}
	if _, err := git.PlainClone(fp, true, &git.CloneOptions{URL: repoURL, NoCheckout: true}); err != nil {
		return "", fmt.Errorf("failed cloning image repo %s: %s", repoURL, err)
	}
	return fp, nil
}

// ListReleases returns every GitHub release's image assets for repoURL
// (formatted "owner/name"), grounded on GHManager.GetArtifacts.
func (s *Syncer) ListReleases(ctx context.Context, repoURL string) ([]Image, error) {
	parts := strings.SplitN(repoURL, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("repoURL %q was invalid; expected $OWNER/$REPO", repoURL)
	}

	releases, _, err := s.client.Repositories.ListReleases(ctx, parts[0], parts[1], &github.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed listing releases for %s: %s", repoURL, err)
	}

	var images []Image
	for _, release := range releases {
		for _, asset := range release.Assets {
			images = append(images, Image{
				Name:        asset.GetName(),
				URL:         asset.GetURL(),
				ContentType: asset.GetContentType(),
				Release:     release.GetTagName(),
			})
		}
	}
	return images, nil
}

func ensureCacheDir() error {
	fp := cacheLocation()
	if _, err := os.Stat(fp); err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(fp, 0o777)
		}
		return err
	}
	return nil
}

func cacheLocation() string {
	return filepath.Join(xdg.DataHome, CacheDirName, CacheRepoDirName)
}

func encodeCacheName(url string) string {
	return base64.StdEncoding.EncodeToString([]byte(url))
}
