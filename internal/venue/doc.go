// Package venue ships in-process implementations of the swap ports: a paper
// conversion venue driven by configured reference rates, a paper balance
// book and a configured volatility table.
package venue
