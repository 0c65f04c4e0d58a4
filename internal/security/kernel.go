package security

import "io"

// Kernel owns one complete instance of the security subsystem. Components
// are wired with explicit dependency injection rather than process-wide
// globals, so embedders can run independent kernels side by side and the
// "no active context means trusted" rule is testable per instance.
type Kernel struct {
	Registry *Registry
	Store    *PermissionStore
	Audit    *AuditLog
	Stack    *ContextStack
	Manager  *PermissionManager
	Checker  *Checker
}

// KernelOption configures a Kernel.
type KernelOption func(*kernelConfig)

type kernelConfig struct {
	backend   StoreBackend
	retention int
	sink      io.Writer
	trusted   bool
}

// WithStoreBackend sets the permission ledger's persistence medium.
func WithStoreBackend(b StoreBackend) KernelOption {
	return func(c *kernelConfig) { c.backend = b }
}

// WithAuditRetention sets the audit log's in-memory retention.
func WithAuditRetention(n int) KernelOption {
	return func(c *kernelConfig) { c.retention = n }
}

// WithAuditSink routes audit lines to w.
func WithAuditSink(w io.Writer) KernelOption {
	return func(c *kernelConfig) { c.sink = w }
}

// WithTrustedHost builds the checker without a permission manager, so
// declared capabilities pass without a user grant. The manager is still
// constructed for hosts that manage grants out of band.
func WithTrustedHost() KernelOption {
	return func(c *kernelConfig) { c.trusted = true }
}

// NewKernel builds a kernel and loads the permission ledger. A ledger that
// cannot be opened or parsed starts empty; the failure is audited, not
// returned, because a bad ledger must not brick the host.
func NewKernel(opts ...KernelOption) *Kernel {
	cfg := kernelConfig{retention: DefaultAuditRetention}
	for _, opt := range opts {
		opt(&cfg)
	}

	auditOpts := []AuditOption{WithRetention(cfg.retention)}
	if cfg.sink != nil {
		auditOpts = append(auditOpts, WithSink(cfg.sink))
	}

	k := &Kernel{
		Registry: NewRegistry(),
		Store:    NewPermissionStore(cfg.backend),
		Audit:    NewAuditLog(auditOpts...),
		Stack:    NewContextStack(),
	}
	k.Manager = NewPermissionManager(k.Registry, k.Store, k.Audit)

	checkerManager := k.Manager
	if cfg.trusted {
		checkerManager = nil
	}
	k.Checker = NewChecker(k.Registry, k.Stack, checkerManager, k.Audit)

	if err := k.Store.Load(); err != nil {
		k.Audit.Error(EventStoreError, "permission ledger load failed", map[string]any{
			"error": err.Error(),
		})
	}
	return k
}

// Shutdown flushes the permission ledger and checks for leaked context
// frames. A leaked frame is logged and reported.
func (k *Kernel) Shutdown() error {
	if err := k.Stack.Validate(); err != nil {
		k.Audit.Error(EventContextLeak, "context frames leaked at shutdown", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	return k.Store.Save()
}
