package redis

// Redis key naming conventions for workq data.
// All keys are prefixed with "workq:" to avoid collisions.

const keyPrefix = "workq:"

// jobKey returns the key for a job entity: workq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey returns the Sorted Set key holding waiting jobs for a queue,
// scored by priority: workq:queue:{name}:ready
func readyKey(queue string) string { return keyPrefix + "queue:" + queue + ":ready" }

// delayedKey returns the Sorted Set key holding delayed jobs for a queue,
// scored by RunAt in unix milliseconds: workq:queue:{name}:delayed
func delayedKey(queue string) string { return keyPrefix + "queue:" + queue + ":delayed" }

// finishedKey returns the Sorted Set key holding terminal jobs of a state
// for a queue, scored by FinishedAt in unix milliseconds:
// workq:queue:{name}:{state}
func finishedKey(queue, state string) string {
	return keyPrefix + "queue:" + queue + ":" + state
}

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
