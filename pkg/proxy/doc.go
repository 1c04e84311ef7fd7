/*
Package proxy keeps an external edge proxy's route table in step with the
fleet. The table is rebuilt from the store on every sync rather than patched
incrementally, so a dropped webhook delivery is repaired by the next one.
*/
package proxy
