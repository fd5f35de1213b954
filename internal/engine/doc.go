// Package engine provides the boundary to the external MATLAB runtime.
//
// The package defines the Engine capability interface consumed by the
// execution layer, a Discoverer that locates the MATLAB executable, and
// Process, the production implementation that owns a single long-lived
// MATLAB subprocess.
//
// # Command protocol
//
// Process drives an interactive MATLAB started with -nodesktop -nosplash.
// Every submission is a single command line wrapped in try/catch and
// followed by a marker statement carrying a unique ID. Output is scanned
// from the process stdout until the end marker appears; error and value
// markers inside the window carry the engine diagnostic and jsonencode'd
// values. Values cross the boundary as JSON in both directions, which keeps
// the serialization language-neutral.
package engine
