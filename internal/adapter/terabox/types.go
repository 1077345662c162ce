package terabox

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// flexInt accepts numbers encoded either as JSON numbers or strings
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false, 0/1 and "0"/"1"
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.Trim(data, `"`)) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

// flexString accepts strings and bare numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(bytes.Trim(data, `"`))
	return nil
}

// listResponse is the resolver service response
type listResponse struct {
	Status  string      `json:"status"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
	List    []listEntry `json:"list"`
}

type listEntry struct {
	Name     string      `json:"name"`
	IsDir    flexBool    `json:"is_dir"`
	Size     flexInt     `json:"size"`
	FsID     flexString  `json:"fs_id"`
	DLink    string      `json:"dlink"`
	Links    []string    `json:"links"`
	Children []listEntry `json:"children"`
}

func toRemoteEntries(in []listEntry) []domain.RemoteEntry {
	out := make([]domain.RemoteEntry, 0, len(in))
	for _, e := range in {
		out = append(out, domain.RemoteEntry{
			Name:        e.Name,
			IsDir:       bool(e.IsDir),
			Size:        int64(e.Size),
			RemoteID:    string(e.FsID),
			DownloadURL: e.DLink,
			Links:       e.Links,
			Children:    toRemoteEntries(e.Children),
		})
	}
	return out
}

// ParseListing decodes a listing document into remote entries
func ParseListing(data []byte) ([]domain.RemoteEntry, error) {
	var resp listResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return toRemoteEntries(resp.List), nil
}
