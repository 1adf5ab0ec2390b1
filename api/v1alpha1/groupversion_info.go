// Package v1alpha1 contains the PCPMap custom resource, the declarative
// API through which callers request a port mapping.
//
// +kubebuilder:object:generate=true
// +groupName=port-forward-controller.io
package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

// GroupVersion is the API group and version this package's types
// register under.
var GroupVersion = schema.GroupVersion{Group: "port-forward-controller.io", Version: "v1alpha1"}

// SchemeBuilder collects functions that add types to a Scheme.
var SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

// AddToScheme adds this package's types to a Scheme.
var AddToScheme = SchemeBuilder.AddToScheme

func init() {
	SchemeBuilder.Register(&PCPMap{}, &PCPMapList{})
}
