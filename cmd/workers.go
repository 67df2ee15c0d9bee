/*
Copyright 2024 Droptide Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// workerCommands defines the "workers" command: long-running dispatcher
// loops that drain the stage topics. Each dispatcher is an independent
// consumer; the per-item locks keep them from stepping on each other, so
// --count (and extra processes on other machines) scales horizontally.
func workerCommands(d *droptideInstance) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start droptide pipeline workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if count < 1 {
				count = 1
			}
			log.Printf(" [*] Starting %d dispatcher(s)", count)

			var wg sync.WaitGroup
			for i := 0; i < count; i++ {
				wg.Add(1)
				go func(worker int) {
					defer wg.Done()
					err := d.droptide.StartDispatcher(ctx)
					if err != nil && !errors.Is(err, context.Canceled) {
						logrus.Errorf("dispatcher %d stopped: %v", worker, err)
					}
				}(i)
			}

			<-ctx.Done()
			log.Println(" [*] Shutting down workers")
			wg.Wait()
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "number of dispatcher loops to run in this process")

	return cmd
}
