// Package ircode persists the IR code library.
//
// Installers capture sendir codes once and store them by device and
// function ("tv-lounge"/"power_on"); control surfaces then fire codes by
// name instead of shipping raw timing data. Every code passes the
// sendir completeness check before it is stored, so a truncated capture
// can never reach an emitter later.
package ircode
