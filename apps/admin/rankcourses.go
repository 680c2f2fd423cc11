package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) rankCourses() error {
	if err := cli.crsSvc.RebuildRanking(context.Background()); err != nil {
		return err
	}
	fmt.Println("Courses ranking rebuilt.")
	return nil
}
