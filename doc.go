// Package qgrad is a hybrid quantum–classical differentiation engine:
// it traces quantum circuit builders into typed operation tapes, executes
// them on pluggable backend devices, and differentiates measurement
// outcomes with respect to free circuit parameters.
//
// 🚀 What is qgrad?
//
//	A pure-Go engine for gradient-aware quantum circuits:
//
//	  • Tracing: circuit builders are recorded once into an operation tape
//	  • Devices: any backend satisfying the device contract plugs in
//	  • Gradients: parameter-shift rule, finite differences, and the
//	    order-2 Heisenberg rule for Gaussian continuous-variable circuits
//
// Everything is organized under flat subpackages:
//
//	variable/   — parameter slots and the per-evaluation value binding
//	operation/  — operation descriptors, instances, and the trace recorder
//	matrix/     — dense real matrices for phase-space algebra
//	device/     — the backend contract and the generic execute loop
//	ops/        — the gate and observable library
//	qnode/      — tape, tracer, QuantumNode, and the gradient engine
//	simqubit/   — reference state-vector qubit simulator
//	simgauss/   — reference Gaussian continuous-variable simulator
//
// Quick example:
//
//	dev, _ := simqubit.New(1)
//	node := qnode.New(func(args qnode.Args, _ qnode.KwArgs) (any, error) {
//		ops.RX(args[0].(operation.Param), 0)
//		return ops.Expval(ops.PauliZ(0))
//	}, dev)
//
//	value, _ := node.Evaluate(qnode.Args{0.54}, nil)     // ⟨Z⟩ = cos θ
//	jac, _ := node.Jacobian(qnode.Args{0.54})            // ∂⟨Z⟩/∂θ = −sin θ
//
// Evaluations are synchronous and single-threaded: serialize concurrent
// use of one process yourself.
package qgrad
