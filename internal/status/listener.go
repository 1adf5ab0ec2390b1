// Package status implements a single-threaded cooperative loop that
// resolves decoded PCP replies back to the declarative resource that
// produced them and patches that resource's status.
package status

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	pcpforwardv1alpha1 "github.com/pcpforward/controller/api/v1alpha1"
	"github.com/pcpforward/controller/internal/indexer"
	pcpclient "github.com/pcpforward/controller/internal/pcp/client"
	"github.com/pcpforward/controller/internal/pcp/mapping"
	"github.com/pcpforward/controller/internal/pcp/primitives"
)

// FieldManager is the fixed field-manager identity used for every
// status patch this listener issues.
const FieldManager = "port-forward-controller"

// WatchEvent is fed to the listener for each observed change to a
// PCPMap resource, keyed the same way the reconciler bridge derives a
// mapping identity from a PCPMap spec.
type WatchEvent = indexer.Event[*pcpforwardv1alpha1.PCPMap]

// Extract derives a mapping identity and resource reference from a
// PCPMap using the same conversion rules the reconciler applies to its
// spec, so the two components agree on K for a given resource.
func Extract(converter Converter) indexer.Extractor[mapping.Id, *pcpforwardv1alpha1.PCPMap] {
	return func(obj *pcpforwardv1alpha1.PCPMap) (mapping.Id, indexer.ObjectRef, bool) {
		id, _, err := converter.Convert(obj.Spec)
		if err != nil {
			return mapping.Id{}, indexer.ObjectRef{}, false
		}
		return id, indexer.ObjectRef{Namespace: obj.Namespace, Name: obj.Name}, true
	}
}

// ExtractKey derives just the mapping identity, for the Delete path.
func ExtractKey(converter Converter) indexer.KeyExtractor[mapping.Id, *pcpforwardv1alpha1.PCPMap] {
	return func(obj *pcpforwardv1alpha1.PCPMap) (mapping.Id, bool) {
		id, _, err := converter.Convert(obj.Spec)
		if err != nil {
			return mapping.Id{}, false
		}
		return id, true
	}
}

// Converter is the subset of internal/controller.Converter this
// package needs, expressed locally to avoid a dependency cycle between
// internal/controller and internal/status.
type Converter interface {
	Convert(spec pcpforwardv1alpha1.PCPMapSpec) (mapping.Id, mapping.Params, error)
}

// Patcher issues the server-side-apply status patch. client.Client
// satisfies it directly.
type Patcher interface {
	Status() client.SubResourceWriter
}

// Listener consumes the client engine's notification channel and the
// orchestrator's watch stream, and relays resolved notifications as
// status patches.
type Listener struct {
	idx     *indexer.Indexer[mapping.Id, *pcpforwardv1alpha1.PCPMap]
	patcher Patcher
	logger  logr.Logger

	notifications <-chan pcpclient.NotifiedMapping
	events        <-chan WatchEvent

	stash map[mapping.Id]pcpclient.NotifiedMapping
}

// New builds a Listener. converter must use the same conversion rules
// as the reconciler bridge driving the same client engine.
func New(converter Converter, patcher Patcher, notifications <-chan pcpclient.NotifiedMapping, events <-chan WatchEvent, logger logr.Logger) *Listener {
	return &Listener{
		idx:           indexer.New(Extract(converter), ExtractKey(converter)),
		patcher:       patcher,
		logger:        logger,
		notifications: notifications,
		events:        events,
		stash:         make(map[mapping.Id]pcpclient.NotifiedMapping),
	}
}

// Run drives the listener until ctx is canceled or both input channels
// close.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, open := <-l.events:
			if !open {
				l.events = nil
				break
			}
			wasReady := l.ready()
			l.idx.Handle(ev)
			if !wasReady && l.ready() {
				l.drainStash(ctx)
			}

		case n, open := <-l.notifications:
			if !open {
				l.notifications = nil
				break
			}
			l.handleNotification(ctx, n)
		}

		if l.events == nil && l.notifications == nil {
			return nil
		}
	}
}

func (l *Listener) ready() bool {
	_, err := indexer.ReaderFor(l.idx)
	return err == nil
}

func (l *Listener) handleNotification(ctx context.Context, n pcpclient.NotifiedMapping) {
	reader, err := indexer.ReaderFor(l.idx)
	if err != nil {
		// Overwrite any prior stashed notification for the same K: only
		// the latest server state matters once resolution becomes
		// possible.
		l.stash[n.Id] = n
		return
	}

	ref, ok := reader.Lookup(n.Id)
	if !ok {
		return
	}
	l.patch(ctx, ref, n)
}

func (l *Listener) drainStash(ctx context.Context) {
	reader, err := indexer.ReaderFor(l.idx)
	if err != nil {
		return
	}

	for id, n := range l.stash {
		delete(l.stash, id)
		if ref, ok := reader.Lookup(id); ok {
			l.patch(ctx, ref, n)
		}
	}
}

func (l *Listener) patch(ctx context.Context, ref indexer.ObjectRef, n pcpclient.NotifiedMapping) {
	endpoint := formatEndpoint(n.Incoming.AssignedExternalIP, n.Incoming.AssignedExternalPort)

	patch := &pcpforwardv1alpha1.PCPMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: pcpforwardv1alpha1.GroupVersion.String(),
			Kind:       "PCPMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Namespace: ref.Namespace,
			Name:      ref.Name,
		},
		Status: pcpforwardv1alpha1.PCPMapStatus{
			ExternalEndpoint: &endpoint,
		},
	}

	if err := l.patcher.Status().Patch(ctx, patch, client.Apply, client.ForceOwnership, client.FieldOwner(FieldManager)); err != nil {
		l.logger.Error(err, "failed to patch PCPMap status", "namespace", ref.Namespace, "name", ref.Name)
	}
}

func formatEndpoint(addr primitives.Address, port primitives.Port) string {
	unified := primitives.SplitAddress(addr)
	if unified.Is4() || !unified.IsValid() {
		return fmt.Sprintf("%s:%d", unified, port)
	}
	return fmt.Sprintf("[%s]:%d", unified, port)
}
