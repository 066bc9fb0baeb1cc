// Package power reboots the device after an installed update.
package power
