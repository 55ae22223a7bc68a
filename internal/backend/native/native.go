// Package native bridges the rendering engine's own download objects to
// the transfer registry. The engine drives the whole transfer itself and
// only reports events; this adapter translates those events into registry
// updates, decides destinations (save-as dialog or collision-free
// auto-naming) and takes the .part backup that keeps a paused transfer
// resumable, since the engine deletes partial files when cancelled.
package native

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/qayeq/transferd/internal/fsutil"
	"github.com/qayeq/transferd/internal/logctx"
	"github.com/qayeq/transferd/internal/registry"
)

// EngineDownload is the surface this adapter needs from one engine
// download object. The engine integration implements it; tests substitute
// a fake.
type EngineDownload interface {
	URI() string
	SetDestination(path string)
	SetAllowOverwrite(allow bool)
	Cancel()
	ReceivedBytes() int64
	ExpectedBytes() int64
	ResponseHeader(name string) string
}

// DestinationChooser presents the destination-choice dialog for save-as
// downloads. ok is false when the user dismisses the dialog.
type DestinationChooser interface {
	ChooseDestination(ctx context.Context, suggested, initialDir string) (path string, ok bool)
}

// RangeResumer restarts a paused transfer over plain HTTP. Implemented by
// the httprange fetcher.
type RangeResumer interface {
	Resume(ctx context.Context, id uint64)
}

type Adapter struct {
	reg          *registry.Registry
	chooser      DestinationChooser
	ranger       RangeResumer
	downloadsDir string
}

func NewAdapter(reg *registry.Registry, chooser DestinationChooser, ranger RangeResumer, downloadsDir string) *Adapter {
	return &Adapter{
		reg:          reg,
		chooser:      chooser,
		ranger:       ranger,
		downloadsDir: downloadsDir,
	}
}

// Attach binds one engine download object. The engine integration calls
// the returned binding's methods as the matching engine events fire.
func (a *Adapter) Attach(ctx context.Context, dl EngineDownload) *Binding {
	return &Binding{adapter: a, dl: dl, ctx: ctx}
}

// Binding tracks one engine download across its event callbacks.
type Binding struct {
	adapter *Adapter
	dl      EngineDownload
	ctx     context.Context

	id            uint64
	added         bool
	resumeChecked bool
}

// ID returns the registry id assigned in DecideDestination, or 0 before
// a destination was committed.
func (b *Binding) ID() uint64 {
	return b.id
}

// DecideDestination handles the engine's destination-decision event. The
// return value tells the engine the destination is being handled here.
func (b *Binding) DecideDestination(suggested string) bool {
	reg := b.adapter.reg
	logger := logctx.LoggerFromContext(b.ctx)
	uri := b.dl.URI()

	if reg.TakeSaveAs(uri) {
		initialDir := b.adapter.downloadsDir
		if dir, ok := reg.LastSaveDir(); ok {
			initialDir = dir
		}

		path, ok := b.adapter.chooser.ChooseDestination(b.ctx, suggested, initialDir)
		if !ok {
			// User dismissed the dialog: the download dies quietly,
			// it is not a failure.
			logger.Debug("save-as dialog dismissed", "url", uri)
			b.dl.Cancel()

			return true
		}

		reg.SetLastSaveDir(filepath.Dir(path))

		b.id = reg.Add(uri, filepath.Base(path), path)
		b.added = true

		dl := b.dl
		reg.RegisterCanceller(b.id, registry.CancelFunc(func() {
			dl.Cancel()
		}))

		logger.Info("saving download", "transfer_id", b.id, "destination", path)
		b.dl.SetAllowOverwrite(true)
		b.dl.SetDestination(path)

		return true
	}

	destination := fsutil.UniquePath(b.adapter.downloadsDir, fsutil.SanitizeFilename(suggested))

	b.id = reg.Add(uri, filepath.Base(destination), destination)
	b.added = true

	id, dl := b.id, b.dl
	reg.RegisterCanceller(id, registry.CancelFunc(func() {
		// The engine deletes the partial file when cancelled, so a pause
		// has to copy the bytes out first. A pause that loses the backup
		// still pauses; only resumability is lost.
		if reg.IsPaused(id) {
			if err := fsutil.BackupPart(destination); err != nil {
				logger.Warn("failed to back up partial download", "transfer_id", id, "err", err)
			}
		}

		dl.Cancel()
	}))

	adapter, ctx := b.adapter, b.ctx
	reg.RegisterResumer(id, registry.ResumeFunc(func() {
		adapter.ranger.Resume(ctx, id)
	}))

	logger.Info("auto-saving download", "transfer_id", b.id, "destination", destination)
	b.dl.SetAllowOverwrite(true)
	b.dl.SetDestination(destination)

	return true
}

// DataReceived handles each engine progress event. The first one also
// checks the response's Accept-Ranges header for resume support.
func (b *Binding) DataReceived() {
	if !b.added {
		return
	}

	reg := b.adapter.reg
	reg.UpdateProgress(b.id, b.dl.ReceivedBytes(), b.dl.ExpectedBytes())

	if !b.resumeChecked {
		b.resumeChecked = true

		if ar := b.dl.ResponseHeader("Accept-Ranges"); ar != "" {
			reg.SetSupportsResume(b.id, !strings.EqualFold(ar, "none"))
		}
	}
}

// Finished handles the engine's finished event. A finish with fewer bytes
// than expected means the engine silently stopped; that is a cancellation,
// never a success.
func (b *Binding) Finished() {
	if !b.added {
		return
	}

	reg := b.adapter.reg

	expected := b.dl.ExpectedBytes()
	if expected > 0 && b.dl.ReceivedBytes() < expected {
		if reg.IsActive(b.id) {
			reg.SetStatus(b.id, registry.StatusCancelled)
		}

		return
	}

	if !reg.IsPaused(b.id) {
		reg.SetStatus(b.id, registry.StatusCompleted)
		reg.RemoveCanceller(b.id)
		reg.RemoveResumer(b.id)
	}
}

// Failed handles the engine's failure event. Pausing and cancelling fire
// this too, so an intentional status already on record wins. The resumer
// stays registered: a paused transfer still resumes over HTTP.
func (b *Binding) Failed(reason string) {
	if !b.added {
		return
	}

	reg := b.adapter.reg

	if !reg.IsPaused(b.id) && reg.IsActive(b.id) {
		reg.Fail(b.id, reason)
	}

	reg.RemoveCanceller(b.id)
}
