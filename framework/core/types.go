package core

// ComponentType тип компонента
type ComponentType string

const (
	ComponentTypeAdapter    ComponentType = "adapter"
	ComponentTypeTransport  ComponentType = "transport"
	ComponentTypeProjection ComponentType = "projection"
	ComponentTypeWorker     ComponentType = "worker"
)
