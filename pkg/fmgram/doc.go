// Package fmgram defines the neutral protocol shared by the kernel, platform
// drivers, and bot modules.
//
// Drivers translate platform updates into Event values. Modules declare what
// they consume through ModuleSpec and reply through SinkDispatcher. Nothing in
// this package depends on a concrete platform SDK.
package fmgram
