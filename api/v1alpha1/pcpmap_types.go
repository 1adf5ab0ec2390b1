package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// FinalizerCleanup is the finalizer name guarding mapping cleanup on
// deletion.
const FinalizerCleanup = "port-forward-controller.io/cleanup"

// PCPMapSpec declares one desired port mapping.
type PCPMapSpec struct {
	// Protocol is either an IANA protocol number or one of the symbolic
	// names "any", "tcp", "udp", "sctp", "dccp".
	Protocol intstr.IntOrString `json:"protocol"`

	// From is the requested external port.
	From int32 `json:"from"`

	// To is the internal socket address, "host:port", the mapping
	// forwards to.
	To string `json:"to"`
}

// PCPMapStatus reports the server-assigned external endpoint once the
// mapping has been confirmed, if ever.
type PCPMapStatus struct {
	// ExternalEndpoint is the assigned external socket address,
	// "ip:port", once the PCP server has confirmed the mapping.
	// +optional
	ExternalEndpoint *string `json:"externalEndpoint,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// PCPMap is the namespaced custom resource declaring one port mapping
// for the controller to maintain on the gateway.
type PCPMap struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PCPMapSpec   `json:"spec,omitempty"`
	Status PCPMapStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// PCPMapList is a list of PCPMap resources.
type PCPMapList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []PCPMap `json:"items"`
}
