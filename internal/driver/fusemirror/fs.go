package fusemirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

// mirrorFS passes every request through to a source directory.
type mirrorFS struct {
	root     string
	readOnly bool
}

var (
	_ fusefs.FS         = (*mirrorFS)(nil)
	_ fusefs.FSStatfser = (*mirrorFS)(nil)
)

func newMirrorFS(root string, readOnly bool) *mirrorFS {
	return &mirrorFS{root: filepath.Clean(root), readOnly: readOnly}
}

// Root implements fusefs.FS.
func (m *mirrorFS) Root() (fusefs.Node, error) {
	return &Dir{fs: m}, nil
}

// Statfs reports the capacity of the source filesystem.
func (m *mirrorFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st unix.Statfs_t
	if err := unix.Statfs(m.root, &st); err != nil {
		return toErrno(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = uint32(st.Bsize)
	resp.Namelen = uint32(st.Namelen)
	resp.Frsize = uint32(st.Frsize)
	return nil
}

func (m *mirrorFS) source(rel string) string {
	return filepath.Join(m.root, rel)
}

func (m *mirrorFS) writable() error {
	if m.readOnly {
		return fuse.Errno(syscall.EROFS)
	}
	return nil
}

// Dir is a directory below the source root. The root has an empty rel.
type Dir struct {
	fs  *mirrorFS
	rel string
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
	_ fusefs.NodeMkdirer        = (*Dir)(nil)
	_ fusefs.NodeCreater        = (*Dir)(nil)
	_ fusefs.NodeRemover        = (*Dir)(nil)
	_ fusefs.NodeRenamer        = (*Dir)(nil)
	_ fusefs.NodeSetattrer      = (*Dir)(nil)
)

// Attr implements fusefs.Node.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	return fillAttr(d.fs.source(d.rel), a)
}

// Lookup resolves a child of the directory.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	rel := filepath.Join(d.rel, name)
	info, err := os.Lstat(d.fs.source(rel))
	if err != nil {
		return nil, toErrno(err)
	}
	return d.fs.node(rel, info), nil
}

// ReadDirAll lists the source directory.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries, err := os.ReadDir(d.fs.source(d.rel))
	if err != nil {
		return nil, toErrno(err)
	}
	out := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirent := fuse.Dirent{Name: entry.Name(), Type: direntType(entry.Type())}
		if info, err := entry.Info(); err == nil {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				dirent.Inode = st.Ino
			}
		}
		out = append(out, dirent)
	}
	return out, nil
}

// Mkdir creates a source directory.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	if err := d.fs.writable(); err != nil {
		return nil, err
	}
	rel := filepath.Join(d.rel, req.Name)
	if err := os.Mkdir(d.fs.source(rel), req.Mode&^req.Umask); err != nil {
		return nil, toErrno(err)
	}
	return &Dir{fs: d.fs, rel: rel}, nil
}

// Create creates and opens a source file.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	if err := d.fs.writable(); err != nil {
		return nil, nil, err
	}
	rel := filepath.Join(d.rel, req.Name)
	file, err := os.OpenFile(d.fs.source(rel), int(req.Flags)|os.O_CREATE, req.Mode&^req.Umask)
	if err != nil {
		return nil, nil, toErrno(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return &File{fs: d.fs, rel: rel}, &FileHandle{file: file}, nil
}

// Remove unlinks a file or removes an empty directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	if err := d.fs.writable(); err != nil {
		return err
	}
	path := d.fs.source(filepath.Join(d.rel, req.Name))
	var err error
	if req.Dir {
		err = unix.Rmdir(path)
	} else {
		err = unix.Unlink(path)
	}
	return toErrno(err)
}

// Rename moves a child to another directory of the same filesystem.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	if err := d.fs.writable(); err != nil {
		return err
	}
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EXDEV)
	}
	from := d.fs.source(filepath.Join(d.rel, req.OldName))
	to := d.fs.source(filepath.Join(target.rel, req.NewName))
	return toErrno(os.Rename(from, to))
}

// Setattr applies mode and time changes to the source directory.
func (d *Dir) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	path := d.fs.source(d.rel)
	if err := d.fs.setattr(path, req); err != nil {
		return err
	}
	return fillAttr(path, &resp.Attr)
}

// File is a regular file or symlink below the source root.
type File struct {
	fs  *mirrorFS
	rel string
}

var (
	_ fusefs.Node           = (*File)(nil)
	_ fusefs.NodeOpener     = (*File)(nil)
	_ fusefs.NodeSetattrer  = (*File)(nil)
	_ fusefs.NodeReadlinker = (*File)(nil)
)

// Attr implements fusefs.Node.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	return fillAttr(f.fs.source(f.rel), a)
}

// Open opens the source file with the requested flags.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		if err := f.fs.writable(); err != nil {
			return nil, err
		}
	}
	flags := int(req.Flags) &^ (os.O_CREATE | os.O_EXCL)
	file, err := os.OpenFile(f.fs.source(f.rel), flags, 0)
	if err != nil {
		return nil, toErrno(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{file: file}, nil
}

// Setattr applies size, mode and time changes to the source file.
func (f *File) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	path := f.fs.source(f.rel)
	if err := f.fs.setattr(path, req); err != nil {
		return err
	}
	return fillAttr(path, &resp.Attr)
}

// Readlink returns a symlink's destination unchanged.
func (f *File) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	dest, err := os.Readlink(f.fs.source(f.rel))
	if err != nil {
		return "", toErrno(err)
	}
	return dest, nil
}

func (m *mirrorFS) setattr(path string, req *fuse.SetattrRequest) error {
	if err := m.writable(); err != nil {
		return err
	}
	if req.Valid.Size() {
		if err := os.Truncate(path, int64(req.Size)); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Mode() {
		if err := os.Chmod(path, req.Mode.Perm()); err != nil {
			return toErrno(err)
		}
	}
	if req.Valid.Mtime() || req.Valid.Atime() {
		info, err := os.Stat(path)
		if err != nil {
			return toErrno(err)
		}
		atime, mtime := info.ModTime(), info.ModTime()
		if req.Valid.Atime() {
			atime = req.Atime
		}
		if req.Valid.Mtime() {
			mtime = req.Mtime
		}
		if err := os.Chtimes(path, atime, mtime); err != nil {
			return toErrno(err)
		}
	}
	return nil
}

// FileHandle is an open source file.
type FileHandle struct {
	mu   sync.Mutex
	file *os.File
}

var (
	_ fusefs.HandleReader   = (*FileHandle)(nil)
	_ fusefs.HandleWriter   = (*FileHandle)(nil)
	_ fusefs.HandleFlusher  = (*FileHandle)(nil)
	_ fusefs.HandleReleaser = (*FileHandle)(nil)
)

// Read implements fusefs.HandleReader.
func (h *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return fuse.Errno(syscall.EBADF)
	}
	buf := make([]byte, req.Size)
	n, err := h.file.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return toErrno(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements fusefs.HandleWriter.
func (h *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return fuse.Errno(syscall.EBADF)
	}
	n, err := h.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	return toErrno(err)
}

// Flush syncs written data to the source file.
func (h *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return toErrno(err)
}

// Release closes the source file.
func (h *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return toErrno(err)
}

func (m *mirrorFS) node(rel string, info os.FileInfo) fusefs.Node {
	if info.IsDir() {
		return &Dir{fs: m, rel: rel}
	}
	return &File{fs: m, rel: rel}
}

func fillAttr(path string, a *fuse.Attr) error {
	info, err := os.Lstat(path)
	if err != nil {
		return toErrno(err)
	}
	a.Mode = info.Mode()
	a.Size = uint64(info.Size())
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime()
	a.Ctime = info.ModTime()
	a.BlockSize = 4096
	a.Valid = time.Second
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		a.Inode = st.Ino
		a.Nlink = uint32(st.Nlink)
		a.Uid = st.Uid
		a.Gid = st.Gid
		a.Blocks = uint64(st.Blocks)
		a.Atime = time.Unix(st.Atim.Unix())
		a.Ctime = time.Unix(st.Ctim.Unix())
	}
	return nil
}

func direntType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode.IsDir():
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode.IsRegular():
		return fuse.DT_File
	default:
		return fuse.DT_Unknown
	}
}

// toErrno maps source errors onto the errno the kernel should see.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Errno(errno)
	}
	return err
}
