package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	pcpforwardv1alpha1 "github.com/pcpforward/controller/api/v1alpha1"
	pcpclient "github.com/pcpforward/controller/internal/pcp/client"
	"github.com/pcpforward/controller/internal/pcp/mapping"
	"github.com/pcpforward/controller/internal/pcperr"
)

const (
	// DefaultCommandTimeout bounds how long the reconciler waits for the
	// client engine to accept a command before concluding it is wedged.
	DefaultCommandTimeout = 60 * time.Second
	// DefaultCleanupRequeueInterval paces retries while a mapping's
	// cleanup is still in flight.
	DefaultCleanupRequeueInterval = 10 * time.Second
	// DefaultErrorRequeueInterval paces retries after a reconcile error.
	DefaultErrorRequeueInterval = 60 * time.Second
)

// Engine is the subset of the client engine the reconciler needs: a
// channel to send commands on.
type Engine interface {
	Commands() chan<- pcpclient.Command
}

// PCPMapReconciler implements controller-runtime's Reconciler for
// PCPMap resources, translating them into commands for the PCP client
// engine.
type PCPMapReconciler struct {
	client.Client
	Engine    Engine
	Converter Converter
	Recorder  record.EventRecorder

	CommandTimeout         time.Duration
	CleanupRequeueInterval time.Duration
	ErrorRequeueInterval   time.Duration
}

// SetupWithManager registers the reconciler with mgr.
func (r *PCPMapReconciler) SetupWithManager(mgr ctrl.Manager) error {
	r.setDefaults()
	if r.Recorder == nil {
		r.Recorder = mgr.GetEventRecorderFor("port-forward-controller")
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&pcpforwardv1alpha1.PCPMap{}).
		Complete(r)
}

func (r *PCPMapReconciler) setDefaults() {
	if r.CommandTimeout == 0 {
		r.CommandTimeout = DefaultCommandTimeout
	}
	if r.CleanupRequeueInterval == 0 {
		r.CleanupRequeueInterval = DefaultCleanupRequeueInterval
	}
	if r.ErrorRequeueInterval == 0 {
		r.ErrorRequeueInterval = DefaultErrorRequeueInterval
	}
}

// Reconcile implements reconcile.Reconciler.
func (r *PCPMapReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	logger := log.FromContext(ctx)

	var pcpMap pcpforwardv1alpha1.PCPMap
	if err := r.Get(ctx, req.NamespacedName, &pcpMap); err != nil {
		return reconcile.Result{}, client.IgnoreNotFound(err)
	}

	id, params, convErr := r.Converter.Convert(pcpMap.Spec)
	if convErr != nil {
		logger.Error(convErr, "unable to convert PCPMap spec")
		r.Recorder.Event(&pcpMap, corev1.EventTypeWarning, "ConversionFailed", convErr.Error())
		return reconcile.Result{RequeueAfter: r.ErrorRequeueInterval}, convErr
	}

	if pcpMap.DeletionTimestamp != nil {
		return r.reconcileDelete(ctx, logger, &pcpMap, id)
	}

	return r.reconcileApply(ctx, logger, &pcpMap, id, params)
}

func (r *PCPMapReconciler) reconcileApply(ctx context.Context, logger logr.Logger, pcpMap *pcpforwardv1alpha1.PCPMap, id mapping.Id, params mapping.Params) (reconcile.Result, error) {
	if !controllerutil.ContainsFinalizer(pcpMap, pcpforwardv1alpha1.FinalizerCleanup) {
		controllerutil.AddFinalizer(pcpMap, pcpforwardv1alpha1.FinalizerCleanup)
		if err := r.Update(ctx, pcpMap); err != nil {
			return reconcile.Result{}, err
		}
	}

	err := r.sendCommand(ctx, pcpclient.UpsertDesired{Desired: mapping.Desired{Id: id, Params: params}})
	if err != nil {
		logger.Error(err, "failed to upsert desired mapping")
		r.Recorder.Event(pcpMap, corev1.EventTypeWarning, "UpsertFailed", err.Error())
		return reconcile.Result{RequeueAfter: r.ErrorRequeueInterval}, err
	}

	return reconcile.Result{RequeueAfter: time.Duration(params.Lifetime) * time.Second / 2}, nil
}

func (r *PCPMapReconciler) reconcileDelete(ctx context.Context, logger logr.Logger, pcpMap *pcpforwardv1alpha1.PCPMap, id mapping.Id) (reconcile.Result, error) {
	if !controllerutil.ContainsFinalizer(pcpMap, pcpforwardv1alpha1.FinalizerCleanup) {
		return reconcile.Result{}, nil
	}

	if err := r.sendCommand(ctx, pcpclient.RemoveDesired{Id: id}); err != nil {
		logger.Error(err, "failed to request mapping removal")
		r.Recorder.Event(pcpMap, corev1.EventTypeWarning, "RemoveFailed", err.Error())
		return reconcile.Result{RequeueAfter: r.ErrorRequeueInterval}, err
	}

	hasState, err := r.queryHasState(ctx, id)
	if err != nil {
		logger.Error(err, "failed to query mapping state")
		return reconcile.Result{RequeueAfter: r.ErrorRequeueInterval}, err
	}
	if hasState {
		cleanupErr := pcperr.New(pcperr.CleanupInProgress, "reconcile delete", nil)
		logger.Info("cleanup still in progress, finalizer stays", "id", id)
		return reconcile.Result{RequeueAfter: r.CleanupRequeueInterval}, cleanupErr
	}

	controllerutil.RemoveFinalizer(pcpMap, pcpforwardv1alpha1.FinalizerCleanup)
	if err := r.Update(ctx, pcpMap); err != nil {
		return reconcile.Result{}, err
	}
	return reconcile.Result{}, nil
}

func (r *PCPMapReconciler) sendCommand(ctx context.Context, cmd pcpclient.Command) error {
	ctx, cancel := context.WithTimeout(ctx, r.CommandTimeout)
	defer cancel()

	select {
	case r.Engine.Commands() <- cmd:
		return nil
	case <-ctx.Done():
		return pcperr.New(pcperr.CommandSendTimeout, "send command", ctx.Err())
	}
}

func (r *PCPMapReconciler) queryHasState(ctx context.Context, id mapping.Id) (bool, error) {
	reply := make(chan bool, 1)
	if err := r.sendCommand(ctx, pcpclient.HasState{Id: id, Reply: reply}); err != nil {
		return false, err
	}

	select {
	case has, ok := <-reply:
		if !ok {
			return false, pcperr.New(pcperr.ReplyChannelClosed, "query has state", fmt.Errorf("reply channel closed"))
		}
		return has, nil
	case <-ctx.Done():
		return false, pcperr.New(pcperr.CommandSendTimeout, "query has state", ctx.Err())
	}
}
