// Package planner turns workflow definitions and asset catalogs into ordered
// job lists.
//
// A Plan is one of three closed variants: V2VPlan (source videos crossed or
// interleaved with influencer portraits), T2IPlan (pose, outfit, and prompt
// combinations per influencer), and CompositePlan, which owns a T2I plan and
// a V2V plan and samples the generated portraits into video jobs. Plans are
// split into stages; a stage builds its jobs on demand from the outcomes of
// the previous stage. All randomness flows from an explicit *rand.Rand so a
// fixed seed reproduces the exact job order.
package planner
