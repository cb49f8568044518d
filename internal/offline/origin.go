package offline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// DirOrigin serves files from a file system as if it were a remote origin.
// Directory paths resolve to their index.html.
type DirOrigin struct {
	fsys fs.FS
}

// NewDirOrigin creates an origin over fsys, typically os.DirFS(dir).
func NewDirOrigin(fsys fs.FS) *DirOrigin {
	return &DirOrigin{fsys: fsys}
}

func (o *DirOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return textResponse(req, http.StatusMethodNotAllowed), nil
	}

	name := strings.TrimPrefix(path.Clean("/"+req.URL.Path), "/")
	if name == "" {
		name = "."
	}
	if info, err := fs.Stat(o.fsys, name); err == nil && info.IsDir() {
		name = path.Join(name, "index.html")
	}

	data, err := fs.ReadFile(o.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return textResponse(req, http.StatusNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	header := http.Header{
		"Content-Type":   {ctype},
		"Content-Length": {strconv.Itoa(len(data))},
	}
	body := io.NopCloser(bytes.NewReader(data))
	if req.Method == http.MethodHead {
		body = http.NoBody
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: int64(len(data)),
		Request:       req,
	}, nil
}

func textResponse(req *http.Request, status int) *http.Response {
	text := http.StatusText(status)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, text),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(text)),
		ContentLength: int64(len(text)),
		Request:       req,
	}
}
