package python

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "3.10", want: "3.10"},
		{in: "3.10.12", want: "3.10.12"},
		{in: "Python 3.10.12\n", want: "3.10.12"},
		{in: "3.11.0rc1", want: "3.11.0"},
		{in: "", wantErr: true},
		{in: "three.ten", wantErr: true},
		{in: "3", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseVersion(tc.in)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got.String())
	}
}

func TestVersionMatches(t *testing.T) {
	target, err := ParseVersion("3.10")
	require.NoError(t, err)

	v31012, err := ParseVersion("3.10.12")
	require.NoError(t, err)
	require.True(t, v31012.Matches(target))

	v39, err := ParseVersion("3.9.18")
	require.NoError(t, err)
	require.False(t, v39.Matches(target))

	exact, err := ParseVersion("3.10.12")
	require.NoError(t, err)
	require.True(t, v31012.Matches(exact))

	v31011, err := ParseVersion("3.10.11")
	require.NoError(t, err)
	require.False(t, v31011.Matches(exact))
}

func TestVersionCompare(t *testing.T) {
	a, _ := ParseVersion("3.9.18")
	b, _ := ParseVersion("3.10.0")
	c, _ := ParseVersion("3.10")
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, 0, b.Compare(c))
}

func TestFinderPrefersVersionedBinary(t *testing.T) {
	binaries := map[string]string{
		"python3.10": "/usr/bin/python3.10",
		"python3":    "/usr/bin/python3",
	}
	versions := map[string]string{
		"/usr/bin/python3.10": "Python 3.10.12",
		"/usr/bin/python3":    "Python 3.12.1",
	}
	finder := NewFinder(
		WithLookPath(func(name string) (string, error) {
			if path, ok := binaries[name]; ok {
				return path, nil
			}
			return "", errors.New("not found")
		}),
		WithRunner(func(_ context.Context, name string, _ ...string) ([]byte, error) {
			return []byte(versions[name]), nil
		}),
	)

	target, _ := ParseVersion("3.10")
	interp, err := finder.Find(context.Background(), target, "")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/python3.10", interp.Path)
	require.Equal(t, "3.10.12", interp.VersionString)
}

func TestFinderFallsBackToGenericBinary(t *testing.T) {
	finder := NewFinder(
		WithLookPath(func(name string) (string, error) {
			if name == "python3" {
				return "/usr/bin/python3", nil
			}
			return "", errors.New("not found")
		}),
		WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
			return []byte("Python 3.10.4"), nil
		}),
	)
	target, _ := ParseVersion("3.10")
	interp, err := finder.Find(context.Background(), target, "")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/python3", interp.Path)
}

func TestFinderReportsMismatchedInterpreters(t *testing.T) {
	finder := NewFinder(
		WithLookPath(func(name string) (string, error) {
			if name == "python3" {
				return "/usr/bin/python3", nil
			}
			return "", errors.New("not found")
		}),
		WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
			return []byte("Python 3.9.18"), nil
		}),
	)
	target, _ := ParseVersion("3.10")
	_, err := finder.Find(context.Background(), target, "")
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "3.9.18")
	require.Contains(t, err.Error(), "install python3.10")
}

func TestFinderChecksExplicitPath(t *testing.T) {
	finder := NewFinder(
		WithRunner(func(_ context.Context, name string, _ ...string) ([]byte, error) {
			require.Equal(t, "/opt/python/bin/python3.10", name)
			return []byte("Python 3.10.9"), nil
		}),
	)
	target, _ := ParseVersion("3.10")
	interp, err := finder.Find(context.Background(), target, "/opt/python/bin/python3.10")
	require.NoError(t, err)
	require.Equal(t, "3.10.9", interp.VersionString)

	finder = NewFinder(
		WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
			return []byte("Python 3.8.10"), nil
		}),
	)
	_, err = finder.Find(context.Background(), target, "/opt/python/bin/python3.10")
	require.ErrorIs(t, err, ErrNotFound)
}
