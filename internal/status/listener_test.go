package status

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	pcpforwardv1alpha1 "github.com/pcpforward/controller/api/v1alpha1"
	"github.com/pcpforward/controller/internal/indexer"
	pcpclient "github.com/pcpforward/controller/internal/pcp/client"
	"github.com/pcpforward/controller/internal/pcp/mapping"
	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcp/wire"
)

type fakeConverter struct{}

func (fakeConverter) Convert(spec pcpforwardv1alpha1.PCPMapSpec) (mapping.Id, mapping.Params, error) {
	id := mapping.Id{
		Protocol:     primitives.ProtocolTCP,
		InternalPort: primitives.Port(spec.From),
	}
	return id, mapping.Params{}, nil
}

type recordedPatch struct {
	namespace, name string
	endpoint        string
}

type fakePatcher struct {
	mu      sync.Mutex
	patches []recordedPatch
}

func (f *fakePatcher) Status() client.SubResourceWriter { return fakeSubResourceWriter{f} }

func (f *fakePatcher) record(p recordedPatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, p)
}

func (f *fakePatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

type fakeSubResourceWriter struct{ f *fakePatcher }

func (w fakeSubResourceWriter) Create(context.Context, client.Object, client.Object, ...client.SubResourceCreateOption) error {
	return nil
}

func (w fakeSubResourceWriter) Update(context.Context, client.Object, ...client.SubResourceUpdateOption) error {
	return nil
}

func (w fakeSubResourceWriter) Patch(_ context.Context, obj client.Object, _ client.Patch, _ ...client.SubResourcePatchOption) error {
	pcpMap := obj.(*pcpforwardv1alpha1.PCPMap)
	endpoint := ""
	if pcpMap.Status.ExternalEndpoint != nil {
		endpoint = *pcpMap.Status.ExternalEndpoint
	}
	w.f.record(recordedPatch{namespace: pcpMap.Namespace, name: pcpMap.Name, endpoint: endpoint})
	return nil
}

func newTestListener(patcher *fakePatcher) (*Listener, chan pcpclient.NotifiedMapping, chan WatchEvent) {
	notifications := make(chan pcpclient.NotifiedMapping, 8)
	events := make(chan WatchEvent, 8)
	l := New(fakeConverter{}, patcher, notifications, events, logr.Discard())
	return l, notifications, events
}

func testPCPMap(namespace, name string, from int32) *pcpforwardv1alpha1.PCPMap {
	return &pcpforwardv1alpha1.PCPMap{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: pcpforwardv1alpha1.PCPMapSpec{
			Protocol: intstr.FromString("tcp"),
			From:     from,
			To:       "10.0.0.1:80",
		},
	}
}

func mustParseAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotificationBeforeReadyIsStashedThenDrained(t *testing.T) {
	patcher := &fakePatcher{}
	l, notifications, events := newTestListener(patcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	id := mapping.Id{Protocol: primitives.ProtocolTCP, InternalPort: 80}
	notifications <- pcpclient.NotifiedMapping{
		Id: id,
		Incoming: mapping.Incoming{
			ResultCode:           wire.ResultSuccess,
			AssignedExternalPort: 8080,
			AssignedExternalIP:   primitives.UnifyAddress(mustParseAddr("203.0.113.1")),
		},
	}

	// Give the listener a moment to process the notification while not
	// ready; it must not have patched anything yet.
	time.Sleep(20 * time.Millisecond)
	if patcher.count() != 0 {
		t.Fatalf("patch count = %d before indexer is ready, want 0", patcher.count())
	}

	events <- WatchEvent{Kind: indexer.Init}
	events <- WatchEvent{Kind: indexer.InitApply, Object: testPCPMap("default", "web", 80)}
	events <- WatchEvent{Kind: indexer.InitDone}

	waitUntil(t, func() bool { return patcher.count() == 1 })
}

func TestNotificationAfterReadyPatchesImmediately(t *testing.T) {
	patcher := &fakePatcher{}
	l, notifications, events := newTestListener(patcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	events <- WatchEvent{Kind: indexer.Init}
	events <- WatchEvent{Kind: indexer.InitApply, Object: testPCPMap("default", "web", 80)}
	events <- WatchEvent{Kind: indexer.InitDone}
	time.Sleep(20 * time.Millisecond) // let the Init* events drain first

	id := mapping.Id{Protocol: primitives.ProtocolTCP, InternalPort: 80}
	notifications <- pcpclient.NotifiedMapping{
		Id: id,
		Incoming: mapping.Incoming{
			ResultCode:           wire.ResultSuccess,
			AssignedExternalPort: 9090,
			AssignedExternalIP:   primitives.UnifyAddress(mustParseAddr("203.0.113.1")),
		},
	}

	waitUntil(t, func() bool { return patcher.count() == 1 })
}

func TestUnresolvableNotificationIsDropped(t *testing.T) {
	patcher := &fakePatcher{}
	l, notifications, events := newTestListener(patcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	events <- WatchEvent{Kind: indexer.Init}
	events <- WatchEvent{Kind: indexer.InitDone}

	notifications <- pcpclient.NotifiedMapping{
		Id: mapping.Id{Protocol: primitives.ProtocolTCP, InternalPort: 999},
	}

	time.Sleep(20 * time.Millisecond)
	if patcher.count() != 0 {
		t.Fatalf("patch count = %d, want 0 for an unresolvable mapping", patcher.count())
	}
}
