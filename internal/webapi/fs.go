package webapi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jshost/internal/core"
)

// errSubsystemClosed is returned by bridge calls that race with host close.
var errSubsystemClosed = errors.New("subsystem is closed")

const fsJS = `
(function() {
	var pending = {};
	var seq = 0;
	globalThis.__fsSettle = function(cbID, err, dataHex) {
		var p = pending[cbID];
		if (!p) return;
		delete pending[cbID];
		if (err) p.reject(new Error(err));
		else p.resolve(dataHex);
	};
	function track(start) {
		return new Promise(function(resolve, reject) {
			var cbID = String(++seq);
			pending[cbID] = { resolve: resolve, reject: reject };
			try {
				start(cbID);
			} catch (e) {
				delete pending[cbID];
				reject(e);
			}
		});
	}
	globalThis.fs = {
		open: function(path, flag) { return __fsOpen(String(path), flag ? String(flag) : 'r'); },
		read: function(fd, n) { return __hexToBytes(__fsRead(fd, n === undefined ? 65536 : n)); },
		write: function(fd, data) { return __fsWrite(fd, __bytesToHex(__toBytes(data))); },
		close: function(fd) { __fsClose(fd); },
		readFile: function(path, encoding) {
			return track(function(cbID) { __fsReadFileAsync(String(path), cbID); }).then(function(h) {
				return encoding === 'utf8' || encoding === 'utf-8' ? __hexToUTF8(h) : __hexToBytes(h);
			});
		},
		writeFile: function(path, data) {
			return track(function(cbID) {
				__fsWriteFileAsync(String(path), __bytesToHex(__toBytes(data)), cbID);
			}).then(function() {});
		}
	};
})();
`

// fileFlags maps fs.open flag strings to os flags.
var fileFlags = map[string]int{
	"r":  os.O_RDONLY,
	"r+": os.O_RDWR,
	"w":  os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
	"w+": os.O_RDWR | os.O_CREATE | os.O_TRUNC,
	"a":  os.O_WRONLY | os.O_CREATE | os.O_APPEND,
	"a+": os.O_RDWR | os.O_CREATE | os.O_APPEND,
}

// defaultCloseWait bounds how long Close waits for in-flight async
// operations when the host sets no shutdown timeout.
const defaultCloseWait = 5 * time.Second

// FileSystem is the file bridge. Every path is resolved inside an os.Root,
// so scripts cannot escape the configured directory. Open handles and
// in-flight async reads/writes are tracked in Registry.Files.
type FileSystem struct {
	host      core.Host
	root      *os.Root
	maxOpen   int
	closeWait time.Duration

	mu      sync.Mutex
	files   map[string]*os.File
	pending map[string]struct{} // async op ids whose goroutine is still running
	nextID  int
	closed  bool
	wg      sync.WaitGroup
}

// NewFileSystem opens dir as the sandbox root.
func NewFileSystem(h core.Host, dir string, maxOpen int) (*FileSystem, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening fs root: %w", err)
	}
	wait := time.Duration(h.Config().ShutdownTimeoutMs) * time.Millisecond
	if wait <= 0 {
		wait = defaultCloseWait
	}
	return &FileSystem{
		host:      h,
		root:      root,
		maxOpen:   maxOpen,
		closeWait: wait,
		files:     make(map[string]*os.File),
		pending:   make(map[string]struct{}),
	}, nil
}

// Setup registers the fs bridge functions and the fs global.
func (f *FileSystem) Setup(rt core.JSRuntime) error {
	funcs := []struct {
		name string
		fn   any
	}{
		{"__fsOpen", f.open},
		{"__fsRead", f.read},
		{"__fsWrite", f.write},
		{"__fsClose", f.closeFile},
		{"__fsReadFileAsync", f.readFileAsync},
		{"__fsWriteFileAsync", f.writeFileAsync},
	}
	for _, fn := range funcs {
		if err := rt.RegisterFunc(fn.name, fn.fn); err != nil {
			return fmt.Errorf("registering %s: %w", fn.name, err)
		}
	}
	return rt.Eval(fsJS)
}

// track allocates an id with the given prefix and adds it to Registry.Files.
// Callers must hold f.mu.
func (f *FileSystem) track(prefix string) (string, error) {
	if f.closed {
		return "", errSubsystemClosed
	}
	f.nextID++
	id := prefix + strconv.Itoa(f.nextID)
	f.host.Registry().Files.Add(id)
	return id, nil
}

func (f *FileSystem) open(path, flag string) (string, error) {
	osFlag, ok := fileFlags[flag]
	if !ok {
		return "", fmt.Errorf("fs.open: unknown flag %q", flag)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxOpen > 0 && len(f.files) >= f.maxOpen {
		return "", fmt.Errorf("fs.open: too many open files (max %d)", f.maxOpen)
	}
	if f.closed {
		return "", errSubsystemClosed
	}
	file, err := f.root.OpenFile(path, osFlag, 0o644)
	if err != nil {
		return "", fmt.Errorf("fs.open: %w", err)
	}
	id, err := f.track("fd-")
	if err != nil {
		_ = file.Close()
		return "", err
	}
	f.files[id] = file
	return id, nil
}

func (f *FileSystem) lookup(id string) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("bad file descriptor %q", id)
	}
	return file, nil
}

func (f *FileSystem) read(id string, n int) (string, error) {
	file, err := f.lookup(id)
	if err != nil {
		return "", fmt.Errorf("fs.read: %w", err)
	}
	if n <= 0 {
		return "", nil
	}
	buf := make([]byte, n)
	got, err := file.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("fs.read: %w", err)
	}
	return hex.EncodeToString(buf[:got]), nil
}

func (f *FileSystem) write(id, dataHex string) (int, error) {
	file, err := f.lookup(id)
	if err != nil {
		return 0, fmt.Errorf("fs.write: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return 0, fmt.Errorf("fs.write: invalid data")
	}
	n, err := file.Write(data)
	if err != nil {
		return n, fmt.Errorf("fs.write: %w", err)
	}
	return n, nil
}

func (f *FileSystem) closeFile(id string) (int, error) {
	f.mu.Lock()
	file, ok := f.files[id]
	if ok {
		delete(f.files, id)
		f.host.Registry().Files.Remove(id)
	}
	f.mu.Unlock()
	if !ok {
		return 0, nil
	}
	if err := file.Close(); err != nil {
		return 1, fmt.Errorf("fs.close: %w", err)
	}
	return 1, nil
}

// startAsync tracks an operation and runs work off the owning goroutine,
// delivering the result to __fsSettle.
func (f *FileSystem) startAsync(cbID string, work func() ([]byte, error)) (int, error) {
	f.mu.Lock()
	opID, err := f.track("op-")
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	f.pending[opID] = struct{}{}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		data, err := work()
		f.mu.Lock()
		delete(f.pending, opID)
		f.mu.Unlock()
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		f.host.DispatchCompletion(func(rt core.JSRuntime) error {
			return rt.Eval(jsCall("__fsSettle", cbID, errMsg, hex.EncodeToString(data)))
		}, func() {
			f.host.Registry().Files.Remove(opID)
		})
	}()
	return 1, nil
}

func (f *FileSystem) readFileAsync(path, cbID string) (int, error) {
	return f.startAsync(cbID, func() ([]byte, error) {
		file, err := f.root.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	})
}

func (f *FileSystem) writeFileAsync(path, dataHex, cbID string) (int, error) {
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return 0, fmt.Errorf("fs.writeFile: invalid data")
	}
	return f.startAsync(cbID, func() ([]byte, error) {
		file, err := f.root.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			return nil, err
		}
		return nil, file.Close()
	})
}

// Close closes every open handle, waits up to the host shutdown timeout for
// in-flight async operations and releases the root. Operations still
// blocked after that are dropped from the registry and left to finish on
// their own; their completions are discarded. It is idempotent.
func (f *FileSystem) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	var err error
	for id, file := range f.files {
		if cerr := file.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("closing %s: %w", id, cerr))
		}
		f.host.Registry().Files.Remove(id)
	}
	f.files = nil
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(f.closeWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		f.mu.Lock()
		stuck := make([]string, 0, len(f.pending))
		for id := range f.pending {
			stuck = append(stuck, id)
			f.host.Registry().Files.Remove(id)
		}
		f.mu.Unlock()
		f.host.Logger().Log(zapcore.WarnLevel, "fs", "abandoning blocked file operations",
			zap.Strings("ops", stuck), zap.Duration("waited", f.closeWait))
	}
	return multierr.Append(err, f.root.Close())
}
