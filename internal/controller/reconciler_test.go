package controller

import (
	"context"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	pcpforwardv1alpha1 "github.com/pcpforward/controller/api/v1alpha1"
	pcpclient "github.com/pcpforward/controller/internal/pcp/client"
	"github.com/pcpforward/controller/internal/pcperr"
)

type fakeEngine struct {
	commands chan pcpclient.Command
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{commands: make(chan pcpclient.Command, 8)}
}

func (f *fakeEngine) Commands() chan<- pcpclient.Command { return f.commands }

func TestReconcileApplyUpsertsAndAddsFinalizer(t *testing.T) {
	scheme, err := pcpforwardv1alpha1.SchemeBuilder.Build()
	if err != nil {
		t.Fatalf("build scheme: %v", err)
	}

	pcpMap := &pcpforwardv1alpha1.PCPMap{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "web"},
		Spec: pcpforwardv1alpha1.PCPMapSpec{
			Protocol: intstr.FromString("tcp"),
			From:     8080,
			To:       "10.0.0.5:80",
		},
	}

	fakeClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(pcpMap).WithStatusSubresource(pcpMap).Build()
	engine := newFakeEngine()

	r := &PCPMapReconciler{
		Client:    fakeClient,
		Engine:    engine,
		Converter: Converter{KeepaliveInterval: 30},
		Recorder:  record.NewFakeRecorder(8),

		CommandTimeout:         time.Second,
		CleanupRequeueInterval: time.Second,
		ErrorRequeueInterval:   time.Second,
	}

	key := client.ObjectKeyFromObject(pcpMap)
	if _, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: key}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	select {
	case cmd := <-engine.commands:
		upsert, ok := cmd.(pcpclient.UpsertDesired)
		if !ok {
			t.Fatalf("command = %T, want UpsertDesired", cmd)
		}
		if upsert.Desired.Id.InternalPort != 80 {
			t.Errorf("internal port = %v, want 80", upsert.Desired.Id.InternalPort)
		}
	default:
		t.Fatal("expected an UpsertDesired command")
	}

	var updated pcpforwardv1alpha1.PCPMap
	if err := fakeClient.Get(context.Background(), key, &updated); err != nil {
		t.Fatalf("Get: %v", err)
	}
	found := false
	for _, f := range updated.Finalizers {
		if f == pcpforwardv1alpha1.FinalizerCleanup {
			found = true
		}
	}
	if !found {
		t.Error("finalizer was not added")
	}
}

func TestReconcileDeleteWaitsForCleanup(t *testing.T) {
	scheme, err := pcpforwardv1alpha1.SchemeBuilder.Build()
	if err != nil {
		t.Fatalf("build scheme: %v", err)
	}

	now := metav1.Now()
	pcpMap := &pcpforwardv1alpha1.PCPMap{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:         "default",
			Name:              "web",
			Finalizers:        []string{pcpforwardv1alpha1.FinalizerCleanup},
			DeletionTimestamp: &now,
		},
		Spec: pcpforwardv1alpha1.PCPMapSpec{
			Protocol: intstr.FromString("tcp"),
			From:     8080,
			To:       "10.0.0.5:80",
		},
	}

	fakeClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(pcpMap).Build()
	engine := newFakeEngine()

	r := &PCPMapReconciler{
		Client:    fakeClient,
		Engine:    engine,
		Converter: Converter{KeepaliveInterval: 30},
		Recorder:  record.NewFakeRecorder(8),

		CommandTimeout:         time.Second,
		CleanupRequeueInterval: time.Second,
		ErrorRequeueInterval:   time.Second,
	}

	// Drain the RemoveDesired command and reply "still present" on the
	// HasState query that follows.
	go func() {
		<-engine.commands
		hasState := (<-engine.commands).(pcpclient.HasState)
		hasState.Reply <- true
	}()

	key := client.ObjectKeyFromObject(pcpMap)
	result, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: key})
	if !pcperr.Is(err, pcperr.CleanupInProgress) {
		t.Fatalf("err = %v, want CleanupInProgress", err)
	}
	if result.RequeueAfter != r.CleanupRequeueInterval {
		t.Errorf("RequeueAfter = %v, want %v", result.RequeueAfter, r.CleanupRequeueInterval)
	}

	var updated pcpforwardv1alpha1.PCPMap
	if err := fakeClient.Get(context.Background(), key, &updated); err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, f := range updated.Finalizers {
		if f == pcpforwardv1alpha1.FinalizerCleanup {
			return
		}
	}
	t.Error("finalizer should stay while cleanup is in progress")
}
