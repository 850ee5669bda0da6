package runtime

import (
	"context"
	"sync"

	"github.com/pithecene-io/gatehouse/demux"
	"github.com/pithecene-io/gatehouse/extract"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/session"
	"github.com/pithecene-io/gatehouse/types"
)

// Enqueuer accepts eligible events for delivery. Satisfied by *delivery.Queue.
type Enqueuer interface {
	Enqueue(event types.NormalizedEvent) (types.DeliveryTask, error)
}

// ImageSaver persists binary artifacts. Satisfied by *lode.ImageStore.
type ImageSaver interface {
	Save(ctx context.Context, a *types.BinaryArtifact) (string, error)
}

// maxImageSaves bounds concurrent image uploads.
const maxImageSaves = 4

// Pipeline routes classified parts: eligible events to the delivery
// queue, artifacts to the image store. It never blocks on network I/O.
type Pipeline struct {
	extractor *extract.Extractor
	queue     Enqueuer
	images    ImageSaver
	metrics   *metrics.Collector
	logger    *log.Logger

	saves chan struct{}
	wg    sync.WaitGroup
}

// NewPipeline creates a pipeline. images may be nil to discard artifacts.
func NewPipeline(x *extract.Extractor, queue Enqueuer, images ImageSaver, m *metrics.Collector, logger *log.Logger) *Pipeline {
	return &Pipeline{
		extractor: x,
		queue:     queue,
		images:    images,
		metrics:   m,
		logger:    logger,
		saves:     make(chan struct{}, maxImageSaves),
	}
}

// HandlePart classifies one part and dispatches the result.
func (p *Pipeline) HandlePart(ctx context.Context, part *demux.Part) {
	res := p.extractor.Classify(part)
	p.metrics.IncPartKind(res.Kind.String())

	switch res.Kind {
	case extract.KindEvent:
		p.dispatchEvent(res.Event)
	case extract.KindArtifact:
		p.saveArtifact(ctx, res.Artifact)
	}
}

func (p *Pipeline) dispatchEvent(e *types.NormalizedEvent) {
	if !e.Eligible() {
		p.metrics.IncEventIneligible()
		return
	}
	task, err := p.queue.Enqueue(*e)
	if err != nil {
		p.logger.Warn("event not enqueued", map[string]any{
			"employee_no": e.EmployeeID,
			"error":       err.Error(),
		})
		return
	}
	p.metrics.IncTaskEnqueued()
	p.logger.Debug("event enqueued", map[string]any{
		"task_id":     task.ID,
		"employee_no": e.EmployeeID,
	})
}

// saveArtifact uploads in the background so a slow store never stalls
// stream reading. When every upload slot is busy the image is dropped.
func (p *Pipeline) saveArtifact(ctx context.Context, a *types.BinaryArtifact) {
	if p.images == nil {
		return
	}
	select {
	case p.saves <- struct{}{}:
	default:
		p.metrics.IncImageSaved(false)
		p.logger.Warn("image dropped, uploads saturated", map[string]any{"file": a.Filename()})
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.saves }()

		path, err := p.images.Save(context.WithoutCancel(ctx), a)
		p.metrics.IncImageSaved(err == nil)
		if err != nil {
			p.logger.Warn("image save failed", map[string]any{
				"file":  a.Filename(),
				"error": err.Error(),
			})
			return
		}
		p.logger.Info("image saved", map[string]any{"path": path, "bytes": len(a.Bytes)})
	}()
}

// Wait blocks until pending image uploads finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

var _ session.Handler = (*Pipeline)(nil)
