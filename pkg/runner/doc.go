/*
Package runner hosts a marionette Engine in a long-running process.

It plays the script turn by turn, persists automatic checkpoints between
turns and reacts to SIGINT/SIGTERM by saving an "interrupted" checkpoint
before finishing, so another process can pick the job up with WithResume.
Checkpoints are deleted once the script succeeds.

# Usage

	eng, err := marionette.New(s,
		marionette.WithPage(page),
		marionette.WithFlow(flow),
		marionette.WithCheckpointStore(store),
		marionette.WithCheckpointID("job-42"),
	)
	if err != nil {
		log.Fatal(err)
	}

	res, err := runner.New(eng, runner.WithResume("job-42")).Run(ctx)
	if err != nil {
		log.Printf("job stopped (%s), checkpoint %q", res.Status, res.Checkpoint)
	}
*/
package runner
