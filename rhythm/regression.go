/* Copyright 2022 Treble Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rhythm

// Observation is one strike: where it fell in ringing space, when it
// fell in wall-clock time, and how much the fit should trust it.
type Observation struct {
	BlowTime float64
	RealTime float64
	Weight   float64
}

// Fit computes the weighted least-squares line realTime = startTime +
// blowInterval * blowTime over the observations.  This is the closed
// form of (XᵀWX)⁻¹XᵀWy for a two-parameter model, written out as
// sums.  It needs at least two observations at distinct blow times.
func Fit(obs []Observation) (startTime, blowInterval float64) {
	var sw, swx, swy, swxx, swxy float64
	for _, o := range obs {
		sw += o.Weight
		swx += o.Weight * o.BlowTime
		swy += o.Weight * o.RealTime
		swxx += o.Weight * o.BlowTime * o.BlowTime
		swxy += o.Weight * o.BlowTime * o.RealTime
	}

	denom := sw*swxx - swx*swx
	blowInterval = (sw*swxy - swx*swy) / denom
	startTime = (swy - blowInterval*swx) / sw
	return startTime, blowInterval
}

// PealSpeedToBlowInterval converts a peal speed in minutes into the
// expected gap between blows, assuming a peal of 5040 changes (2520
// whole pulls) and counting the handstroke gap as one extra blow per
// whole pull.
func PealSpeedToBlowInterval(pealMinutes float64, numBells int) float64 {
	pealSeconds := pealMinutes * 60
	secondsPerWholePull := pealSeconds / 2520
	return secondsPerWholePull / float64(numBells*2+1)
}

// lerp interpolates between a and b, unclamped.  lerp(a, b, 0) is a
// and lerp(a, b, 1) is b.
func lerp(a, b, t float64) float64 {
	return (1-t)*a + t*b
}
