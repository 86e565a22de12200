// Package core contains the training hyperparameters and their conversion
// into trainer settings
package core
