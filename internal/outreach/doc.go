// Package outreach exposes the pipeline's entry points: sending emails to
// contacts (one-off or in staggered bulk), starting and stopping follow-up
// automation, and forcing an immediate check.
package outreach
