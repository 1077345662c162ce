package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	entries := []RemoteEntry{
		{
			Name:  "a",
			IsDir: true,
			Children: []RemoteEntry{
				{Name: "b.txt", Size: 10, RemoteID: "1", DownloadURL: "http://d/1"},
				{
					Name:  "c",
					IsDir: true,
					Children: []RemoteEntry{
						{Name: "d.txt", Size: 20, RemoteID: "2", DownloadURL: "http://d/2"},
					},
				},
				{Name: "empty", IsDir: true},
			},
		},
	}

	got := Flatten(entries)
	if len(got) != 2 {
		t.Fatalf("Flatten() returned %d files, want 2", len(got))
	}

	wantPaths := []string{"a/b.txt", "a/c/d.txt"}
	for i, want := range wantPaths {
		if got[i].Path() != want {
			t.Errorf("Flatten()[%d].Path() = %q, want %q", i, got[i].Path(), want)
		}
	}
	if !reflect.DeepEqual(got[1].Dir(), []string{"a", "c"}) {
		t.Errorf("Dir() = %v, want [a c]", got[1].Dir())
	}
	if got[0].Size != 10 || got[0].RemoteID != "1" {
		t.Errorf("Flatten()[0] = %+v, fields not carried over", got[0])
	}
}

func TestFlatten_SanitizesNames(t *testing.T) {
	entries := []RemoteEntry{
		{Name: "..", IsDir: true, Children: []RemoteEntry{{Name: "x", Size: 1, DownloadURL: "u"}}},
		{Name: "evil/name.bin", Size: 1, DownloadURL: "u"},
		{Name: "  ", Size: 1, DownloadURL: "u"},
	}

	got := Flatten(entries)
	if len(got) != 1 {
		t.Fatalf("Flatten() returned %d files, want 1", len(got))
	}
	if got[0].Path() != "evil_name.bin" {
		t.Errorf("Path() = %q, want %q", got[0].Path(), "evil_name.bin")
	}
}

func TestSubTree(t *testing.T) {
	entries := []RemoteEntry{
		{Name: "Movies", IsDir: true, Children: []RemoteEntry{
			{Name: "2024", IsDir: true, Children: []RemoteEntry{{Name: "a.mp4"}}},
		}},
		{Name: "readme.txt"},
	}

	tests := []struct {
		name      string
		path      string
		wantName  string
		wantLen   int
		wantFound bool
	}{
		{name: "root", path: "/", wantName: "Movies", wantLen: 2, wantFound: true},
		{name: "nested case-insensitive", path: "/movies/2024", wantName: "a.mp4", wantLen: 1, wantFound: true},
		{name: "missing falls back", path: "/nope", wantName: "Movies", wantLen: 2, wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := SubTree(entries, tt.path)
			if found != tt.wantFound {
				t.Errorf("SubTree(%q) found = %v, want %v", tt.path, found, tt.wantFound)
			}
			if len(got) != tt.wantLen || got[0].Name != tt.wantName {
				t.Errorf("SubTree(%q) = %v, want %d entries starting with %q", tt.path, got, tt.wantLen, tt.wantName)
			}
		})
	}
}

func TestFileDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    FileDescriptor
		wantErr error
	}{
		{name: "valid", desc: FileDescriptor{Name: "a", Size: 1, DownloadURL: "u", RelativePath: []string{"a"}}},
		{name: "zero size without url", desc: FileDescriptor{Name: "a", RelativePath: []string{"a"}}},
		{name: "negative size", desc: FileDescriptor{Name: "a", Size: -1, RelativePath: []string{"a"}}, wantErr: ErrNegativeSize},
		{name: "no path", desc: FileDescriptor{Name: "a", Size: 1, DownloadURL: "u"}, wantErr: ErrEmptyPath},
		{name: "no url", desc: FileDescriptor{Name: "a", Size: 1, RelativePath: []string{"a"}}, wantErr: ErrMissingURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTotalSize(t *testing.T) {
	files := []FileDescriptor{{Size: 3}, {Size: 0}, {Size: 7}}
	if got := TotalSize(files); got != 10 {
		t.Errorf("TotalSize() = %d, want 10", got)
	}
}
